package classify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cyclopcam/railalert/pkg/imagex"
)

// Input is one image of a batch
type Input struct {
	ImageID string
	Load    func() ([]byte, error)
}

// FileInput reads the image from dir/imageID
func FileInput(dir, imageID string) Input {
	return Input{
		ImageID: imageID,
		Load: func() ([]byte, error) {
			return os.ReadFile(filepath.Join(dir, imageID))
		},
	}
}

// BytesInput is an image that is already in memory
func BytesInput(imageID string, image []byte) Input {
	return Input{
		ImageID: imageID,
		Load: func() ([]byte, error) {
			return image, nil
		},
	}
}

// BatchItem is the outcome of one Input. Exactly one of Result or Err is set.
type BatchItem struct {
	Index   int
	ImageID string
	Result  *Result
	Err     error
}

type BatchSummary struct {
	Total      int
	Classified int
	Unreadable int // Skipped because the image could not be loaded or decoded
	Failed     int // Skipped because one of our detectors failed
}

// RunBatch classifies inputs with the given number of workers.
// emit is called from a single goroutine, in input order, for every input that was processed,
// including the ones that failed. Failed inputs have no record, and are logged here.
// If ctx is cancelled, no new inputs are started.
func (c *Classifier) RunBatch(ctx context.Context, inputs []Input, workers int, emit func(item BatchItem)) BatchSummary {
	workers = max(workers, 1)
	jobs := make(chan int)
	done := make(chan BatchItem)

	go func() {
		defer close(jobs)
		for i := range inputs {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg := sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				done <- c.processInput(ctx, i, inputs[i])
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	summary := BatchSummary{}
	handle := func(item BatchItem) {
		summary.Total++
		switch {
		case item.Err == nil:
			summary.Classified++
		case errors.Is(item.Err, imagex.ErrUnreadableImage):
			summary.Unreadable++
			c.log.Errorf("Skipping %v: %v", item.ImageID, item.Err)
		default:
			summary.Failed++
			c.log.Errorf("Skipping %v: %v", item.ImageID, item.Err)
		}
		emit(item)
	}

	// Re-order results, so that emit sees them in input order
	pending := map[int]BatchItem{}
	next := 0
	for item := range done {
		pending[item.Index] = item
		for {
			it, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			handle(it)
			next++
		}
	}

	// Only reachable with items left over if we were cancelled, leaving gaps
	rest := make([]int, 0, len(pending))
	for i := range pending {
		rest = append(rest, i)
	}
	sort.Ints(rest)
	for _, i := range rest {
		handle(pending[i])
	}

	c.log.Infof("Batch done: %v images, %v classified, %v unreadable, %v failed", summary.Total, summary.Classified, summary.Unreadable, summary.Failed)
	return summary
}

func (c *Classifier) processInput(ctx context.Context, index int, in Input) BatchItem {
	item := BatchItem{
		Index:   index,
		ImageID: in.ImageID,
	}
	raw, err := in.Load()
	if err != nil {
		item.Err = errors.Join(imagex.ErrUnreadableImage, err)
		return item
	}
	item.Result, item.Err = c.ClassifyBytes(ctx, in.ImageID, raw)
	return item
}
