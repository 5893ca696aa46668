package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/cyclopcam/railalert/pkg/imagex"
	"github.com/cyclopcam/railalert/server/classify"
	"github.com/cyclopcam/railalert/server/recorddb"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	// Each rate-limited route gets its own limiter, so we don't need httprate.KeyByEndpoint
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	rateLimit := s.Config.HTTP.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = 120
	}

	handle("GET", "/api/ping", s.httpPing)
	ratelimited("POST", "/api/classify/:image", s.httpClassify, rateLimit, time.Minute)
	handle("GET", "/api/records", s.httpListRecords)
	handle("GET", "/api/record/:image", s.httpGetRecord)
	handle("GET", "/api/stats", s.httpStats)
	handle("GET", "/api/locations", s.httpLocations)

	s.httpRouter = router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpRouter.ServeHTTP(w, r)
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time  int64  `json:"time"`
		RunID string `json:"runID"`
	}
	www.SendJSON(w, &pingJSON{
		Time:  time.Now().Unix(),
		RunID: s.RunID,
	})
}

// The body is the image. The response is the record.
func (s *Server) httpClassify(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	imageID := params.ByName("image")
	maxBytes := s.Config.HTTP.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	body := www.ReadLimited(w, r, maxBytes)
	res, err := s.Classifier.ClassifyBytes(r.Context(), imageID, body)
	if errors.Is(err, imagex.ErrUnreadableImage) {
		www.PanicBadRequestf("%v", err)
	} else if errors.Is(err, classify.ErrDetectorFailed) {
		www.Panic(http.StatusServiceUnavailable, err.Error())
	}
	www.Check(err)
	s.consume(res.Record)
	if www.QueryInt(r, "detail") == 1 {
		www.SendJSON(w, res)
		return
	}
	www.SendJSON(w, &res.Record)
}

func (s *Server) records() *recorddb.RecordDB {
	if s.Records == nil {
		www.PanicServerErrorf("No record database configured")
	}
	return s.Records
}

func (s *Server) httpListRecords(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	f := recorddb.Filter{
		Location: www.QueryValue(r, "location"),
		Limit:    www.QueryInt(r, "limit"),
		Offset:   www.QueryInt(r, "offset"),
	}
	switch www.QueryValue(r, "accurateAlert") {
	case "":
	case "1", "true":
		yes := true
		f.AccurateAlert = &yes
	case "0", "false":
		no := false
		f.AccurateAlert = &no
	default:
		www.PanicBadRequestf("accurateAlert must be true or false")
	}
	if f.Limit == 0 {
		f.Limit = 1000
	}
	recs, err := s.records().List(f)
	www.Check(err)
	www.SendJSON(w, recs)
}

func (s *Server) httpGetRecord(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rec, err := s.records().Get(params.ByName("image"))
	if errors.Is(err, recorddb.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	www.SendJSON(w, rec)
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type statsJSON struct {
		Locations []recorddb.LocationStats `json:"locations"`
		Timings   map[string]float64       `json:"timings"` // Average milliseconds per stage
	}
	out := statsJSON{
		Timings: map[string]float64{},
	}
	if s.Records != nil {
		var err error
		out.Locations, err = s.Records.Stats()
		www.Check(err)
	}
	for name, acc := range s.Classifier.Stats().All() {
		out.Timings[name] = float64(acc.Average().Microseconds()) / 1000
	}
	www.SendJSON(w, &out)
}

func (s *Server) httpLocations(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Classifier.Locations().Keys())
}
