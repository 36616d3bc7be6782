package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/glyphs/pkg/perfstats"
	"github.com/cyclopcam/glyphs/server/storagecache"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	ping := &pingJSON{
		Time: time.Now().Unix(),
	}
	www.SendJSON(w, ping)
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type response struct {
		Timings    []perfstats.Summary `json:"timings"`
		ModelCache storagecache.Stats  `json:"modelCache"`
		Templates  int                 `json:"templates"`
	}
	resp := response{
		Timings:    s.Models.Stats.Summaries(),
		ModelCache: s.storageCache.Stats(),
	}
	if c := s.Models.Model().Collection(); c != nil {
		resp.Templates = c.Len()
	}
	www.SendJSON(w, resp)
}
