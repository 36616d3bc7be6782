package server

import (
	"bytes"
	"net/http"
	"slices"
	"strconv"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/server/imagedata"
	"github.com/cyclopcam/glyphs/server/preview"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// imagePrefix maps the "standard" flag of an image request to a blob prefix
func imagePrefix(standard bool) string {
	if standard {
		return imagedata.PrefixStandard
	}
	return imagedata.PrefixOriginal
}

func (s *Server) httpAddImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type request struct {
		Label  string `json:"label"`
		Type   string `json:"type"`
		Height int    `json:"height"`
		Width  int    `json:"width"`
		Image  []byte `json:"image"`
	}
	type response struct {
		ImageNumber int `json:"imageNumber"`
	}
	req := request{}
	www.ReadJSON(w, r, &req, 1024*1024)
	n, err := s.Index.AddImage(req.Label, req.Type, req.Height, req.Width, req.Image)
	check(err)
	www.SendJSON(w, response{ImageNumber: n})
}

// Returns the whole file that holds an image
func (s *Server) httpGetImages(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type request struct {
		Label       string `json:"label"`
		Standard    bool   `json:"standard"`
		ImageNumber int    `json:"imageNumber"`
	}
	req := request{}
	www.ReadJSON(w, r, &req, 64*1024)
	raw, err := s.Index.LabelBytes(imagePrefix(req.Standard), req.Label, req.ImageNumber)
	check(err)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(raw)
}

// Returns the concatenated images with the given numbers
func (s *Server) httpGetImagesByNumber(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type request struct {
		Label    string `json:"label"`
		Standard bool   `json:"standard"`
		Numbers  []int  `json:"numbers"`
	}
	req := request{}
	www.ReadJSON(w, r, &req, 1024*1024)
	slices.Sort(req.Numbers)
	raw, err := s.Index.LabelBytesByNumbers(imagePrefix(req.Standard), req.Label, req.Numbers)
	check(err)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(raw)
}

func (s *Server) httpLabels(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Index.AllStats())
}

// Draws every image in the file that holds :number as a PNG contact sheet.
// Query parameters: standard=1, scale=N (default 4)
func (s *Server) httpPreview(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	label := params.ByName("label")
	number, err := strconv.Atoi(params.ByName("number"))
	if err != nil {
		www.PanicBadRequestf("Invalid image number '%v'", params.ByName("number"))
	}
	st, ok := s.Index.Stats(label)
	if !ok {
		www.PanicNotFound()
	}
	standard := www.QueryValue(r, "standard") == "1"
	scale := www.QueryInt(r, "scale")
	if scale <= 0 || scale > 32 {
		scale = 4
	}
	raw, err := s.Index.LabelBytes(imagePrefix(standard), label, number)
	check(err)
	imageType, h, wd := st.Type, st.Height, st.Width
	if standard {
		imageType, h, wd = bitimage.TypeBilevel, bitimage.StandardSize, bitimage.StandardSize
	}
	grids, err := preview.DecodeFile(imageType, h, wd, raw)
	check(err)
	buf := bytes.Buffer{}
	check(preview.ContactSheet(&buf, grids, 8, scale))
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
