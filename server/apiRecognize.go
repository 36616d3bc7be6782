package server

import (
	"net/http"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/recog"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// The demo page sends a 16x16 bilevel drawing
const (
	demoImageSize  = 16
	demoImageBytes = demoImageSize * demoImageSize / 8
)

// UnknownLabel is returned by the demo API when nothing matches
const UnknownLabel = "unknown"

func (s *Server) httpDemoIDImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	raw := www.ReadLimited(w, r, 1024)
	if len(raw) != demoImageBytes {
		www.PanicBadRequestf("Expected %v bytes, but got %v", demoImageBytes, len(raw))
	}
	g, err := bitimage.Unpack(raw, 0, demoImageSize, demoImageSize)
	check(err)
	label, ok, err := s.Models.Model().Recognize(bitimage.Standardize(g))
	check(err)
	if !ok {
		label = UnknownLabel
	}
	type response struct {
		Label string `json:"label"`
	}
	www.SendJSON(w, response{Label: label})
}

func (s *Server) httpRecognize(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type request struct {
		Type   string `json:"type"`
		Height int    `json:"height"`
		Width  int    `json:"width"`
		Image  []byte `json:"image"` // base64 in JSON
	}
	type response struct {
		recog.Result
		Standardized string `json:"standardized"` // drawing of the standardized image
	}
	req := request{}
	www.ReadJSON(w, r, &req, 1024*1024)
	if req.Height <= 0 || req.Width <= 0 || req.Height > 256 || req.Width > 256 {
		www.PanicBadRequestf("Invalid image size %v x %v", req.Width, req.Height)
	}
	bpi, err := bitimage.BytesPerImage(req.Type, req.Height, req.Width)
	check(err)
	if len(req.Image) != bpi {
		www.PanicBadRequestf("Expected %v bytes, but got %v", bpi, len(req.Image))
	}
	g, err := bitimage.Decode(req.Type, req.Height, req.Width, req.Image, 0)
	check(err)
	std := bitimage.Standardize(g)
	res, err := s.Models.Model().RecognizeDetailed(std)
	check(err)
	www.SendJSON(w, response{Result: res, Standardized: std.String()})
}
