package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/glyphs/pkg/coordinator"
	"github.com/cyclopcam/glyphs/server/training"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// roundStatus is what the ML APIs report about the most recent round of a kind
type roundStatus struct {
	Running  bool                 `json:"running"`
	Results  *coordinator.Results `json:"results"` // nil if no round has run since startup
	Messages []string             `json:"messages"`
}

func currentRoundStatus(c *coordinator.Coordinator) roundStatus {
	st := roundStatus{Messages: []string{}}
	if r := c.Current(); r != nil {
		res := r.Results()
		st.Running = !r.IsDone()
		st.Results = &res
		st.Messages = r.Messages()
	}
	return st
}

func (s *Server) httpTestData(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := training.TestRequest{}
	www.ReadJSON(w, r, &req, 64*1024)
	_, err := s.Pipeline.StartTest(req)
	check(err)
	www.SendOK(w)
}

func (s *Server) httpTestResults(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, currentRoundStatus(s.Pipeline.Coordinator(coordinator.Test.Name)))
}

func (s *Server) httpStartRetrain(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := training.TrainRequest{}
	www.ReadJSON(w, r, &req, 1024*1024)
	_, err := s.Pipeline.StartTraining(req)
	check(err)
	www.SendOK(w)
}

func (s *Server) httpTrainingProgress(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	run := s.Pipeline.Training()
	if run == nil {
		www.SendJSON(w, training.TrainingProgress{Done: true, Messages: []string{}})
		return
	}
	www.SendJSON(w, run.Progress())
}

func (s *Server) httpStandardizeAll(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	_, err := s.Pipeline.StartStandardizeAll()
	check(err)
	www.SendOK(w)
}

// Recent audit log rows of :kind ("all" for every kind). Query parameter: limit (default 20)
func (s *Server) httpRounds(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	kind := params.ByName("kind")
	if kind == "all" {
		kind = ""
	} else if s.Pipeline.Coordinator(kind) == nil {
		www.PanicBadRequestf("Unknown round kind '%v'", kind)
	}
	limit := www.QueryInt(r, "limit")
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	rounds, err := s.Rounds.Recent(kind, limit)
	check(err)
	www.SendJSON(w, rounds)
}

// Streams the status of the current round of :kind every watchInterval,
// until the round finishes or the client goes away
func (s *Server) httpWatchRound(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c := s.Pipeline.Coordinator(params.ByName("kind"))
	if c == nil {
		www.PanicBadRequestf("Unknown round kind '%v'", params.ByName("kind"))
	}
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpWatchRound websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Notice when the client closes the socket
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		st := currentRoundStatus(c)
		if err := conn.WriteJSON(st); err != nil {
			s.Log.Infof("httpWatchRound client gone: %v", err)
			return
		}
		if !st.Running {
			return
		}
		select {
		case <-ticker.C:
		case <-closed:
			return
		}
	}
}

const watchInterval = 500 * time.Millisecond
