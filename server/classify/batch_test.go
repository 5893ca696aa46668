package classify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/railalert/pkg/imagex"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestBatchSkipsUnreadable(t *testing.T) {
	r := newRig()
	r.primary.objects = []nn.ObjectDetection{det(primaryTruck, 0.9, 10, 10, 100, 100)}
	c := r.classifier(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_b_2.png"), testPNG(t), 0644))

	inputs := []Input{
		BytesInput("a_b_0.png", testPNG(t)),
		BytesInput("a_b_1.jpg", []byte("not an image")),
		FileInput(dir, "a_b_2.png"),
		FileInput(dir, "a_b_3.png"), // does not exist
	}
	items := []BatchItem{}
	summary := c.RunBatch(context.Background(), inputs, 3, func(item BatchItem) {
		items = append(items, item)
	})
	require.Equal(t, BatchSummary{Total: 4, Classified: 2, Unreadable: 2}, summary)
	require.Len(t, items, 4)
	for i, item := range items {
		require.Equal(t, i, item.Index)
		require.Equal(t, inputs[i].ImageID, item.ImageID)
	}
	require.NoError(t, items[0].Err)
	require.True(t, items[0].Result.Record.Truck)
	require.ErrorIs(t, items[1].Err, imagex.ErrUnreadableImage)
	require.Nil(t, items[1].Result)
	require.NoError(t, items[2].Err)
	require.ErrorIs(t, items[3].Err, imagex.ErrUnreadableImage)
}

func TestBatchOrderAndFailures(t *testing.T) {
	r := newRig()
	r.primary.err = errFake
	c := r.classifier(t)

	img := testPNG(t)
	inputs := []Input{}
	for i := 0; i < 40; i++ {
		inputs = append(inputs, BytesInput(fmt.Sprintf("loc_x_%v.png", i), img))
	}
	next := 0
	summary := c.RunBatch(context.Background(), inputs, 8, func(item BatchItem) {
		require.Equal(t, next, item.Index)
		require.ErrorIs(t, item.Err, ErrDetectorFailed)
		next++
	})
	require.Equal(t, 40, next)
	require.Equal(t, BatchSummary{Total: 40, Failed: 40}, summary)
}

func TestBatchCancelled(t *testing.T) {
	r := newRig()
	c := r.classifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inputs := []Input{BytesInput("a_b_0.png", testPNG(t)), BytesInput("a_b_1.png", testPNG(t))}
	n := 0
	summary := c.RunBatch(ctx, inputs, 1, func(item BatchItem) { n++ })
	require.Equal(t, n, summary.Total)
	require.LessOrEqual(t, n, 2)
}

func TestAggregate(t *testing.T) {
	rec := Aggregate("a_b_0.jpg", "a_b", Memo{HorizontalGate: 3}, "")
	require.True(t, rec.HorizontalGate)
	require.False(t, rec.AccurateClass)
	require.False(t, rec.AccurateAlert)

	rec = Aggregate("a_b_0.jpg", "a_b", Memo{Truck: 1}, "")
	require.True(t, rec.AccurateClass)
	require.True(t, rec.AccurateAlert)

	rec = Aggregate("a_b_0.jpg", "a_b", Memo{}, "person:1")
	require.False(t, rec.AccurateClass)
	require.True(t, rec.AccurateAlert)

	// accurate_class always implies accurate_alert
	for _, m := range []Memo{{}, {Train: 1}, {LegalOccupierVehicle: 2}, {HorizontalGate: 1, Truck: 1}} {
		for _, cls := range []string{"", "car:1"} {
			rec := Aggregate("x", "x", m, cls)
			require.True(t, !rec.AccurateClass || rec.AccurateAlert)
		}
	}
}

func TestSummarize(t *testing.T) {
	require.Equal(t, "", Summarize(nil))
	require.Equal(t, "person:2, car:1", Summarize([]LabelCount{{"person", 2}, {"car", 1}}))
}

func TestLabelTable(t *testing.T) {
	labels := DefaultPrimaryLabels()
	require.Equal(t, ClassTrain, labels.Translate("Train"))
	require.Equal(t, ClassOther, labels.Translate("person"))
	config := &nn.ModelConfig{Classes: primaryModelClasses}
	require.Equal(t, []Class{ClassLegalOccupier, ClassTrain, ClassTruck, ClassOther}, labels.ForModel(config))
	require.Empty(t, labels.Missing(config))
	require.Equal(t, []Class{ClassLegalOccupier}, labels.Missing(&nn.ModelConfig{Classes: []string{"train", "truck"}}))
}

func TestAuditName(t *testing.T) {
	require.Equal(t, "obj_a_b_0.jpg", AuditName("some/dir/a_b_0.jpg"))
}
