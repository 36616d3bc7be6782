package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/glyphs/pkg/apikey"
	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed demo
var staticDemo embed.FS

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := false
	router := httprouter.New()

	// unprotected creates an HTTP handler that is accessible without authentication
	unprotected := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP (unprotected) %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// admin creates an HTTP handler that requires "Authorization: ApiKey <key>"
	admin := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP (admin) %v %v", method, r.URL.Path)
			}
			key := apikey.FromAuthorizationHeader(r.Header.Get("Authorization"))
			if key == "" || s.config.AdminKeyHash == "" || !apikey.Verify(key, s.config.AdminKeyHash) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			handle(w, r, params)
		})
	}

	// ratelimited creates an unprotected HTTP handler with a per-IP request limit
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		// Each endpoint gets its own limiter, so we don't need httprate.KeyByEndpoint
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	unprotected("GET", "/api/ping", s.httpPing)
	unprotected("GET", "/api/stats", s.httpStats)

	ratelimited("POST", "/api/demo/id_image", s.httpDemoIDImage, s.config.DemoRateLimit, time.Minute)
	ratelimited("POST", "/api/recognize", s.httpRecognize, s.config.DemoRateLimit, time.Minute)

	admin("POST", "/api/image-data/add_image", s.httpAddImage)
	unprotected("POST", "/api/image-data/get_images", s.httpGetImages)
	unprotected("POST", "/api/image-data/get_images_by_number", s.httpGetImagesByNumber)
	unprotected("GET", "/api/image-data/labels", s.httpLabels)
	unprotected("GET", "/api/image-data/preview/:label/:number", s.httpPreview)

	admin("POST", "/api/ml/test_data", s.httpTestData)
	unprotected("GET", "/api/ml/test_results", s.httpTestResults)
	admin("POST", "/api/ml/start_retrain", s.httpStartRetrain)
	unprotected("GET", "/api/ml/training_progress", s.httpTrainingProgress)
	admin("POST", "/api/ml/standardize_all", s.httpStandardizeAll)

	unprotected("GET", "/api/rounds/:kind", s.httpRounds)
	unprotected("GET", "/api/rounds/:kind/watch", s.httpWatchRound)

	isImmutable := true
	var fsys fs.FS
	fsysRoot := "demo"
	fsys = staticDemo
	if s.HotReloadWWW {
		relRoot := "server/demo"
		absRoot, err := filepath.Abs(relRoot)
		if err != nil {
			s.Log.Errorf("Failed to resolve static file directory %v: %v", relRoot, err)
			return errors.New("Failed to resolve static file directory for hot reload")
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
		isImmutable = false
	}

	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/"}, s.Log, isImmutable, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	}
	router.NotFound = static

	s.httpRouter = router
	return nil
}

// check turns an error from the recognizer or its storage into the matching HTTP status
func check(err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, errs.ErrNotFound):
		www.Panic(http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrCorrupt):
		www.PanicBadRequestf("%v", err)
	case errors.Is(err, errs.ErrBusy):
		www.Panic(http.StatusConflict, err.Error())
	default:
		www.Check(err)
	}
}
