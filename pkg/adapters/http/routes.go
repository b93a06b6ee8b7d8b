package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface lists the operations of openapi.yaml.
type ServerInterface interface {
	GetHealth(w http.ResponseWriter, r *http.Request)
	ListGraphs(w http.ResponseWriter, r *http.Request)
	GetGraph(w http.ResponseWriter, r *http.Request, graphID string, params GetGraphParams)
	StartInstance(w http.ResponseWriter, r *http.Request)
	GetSnapshot(w http.ResponseWriter, r *http.Request, instanceID string)
	AdvanceInstance(w http.ResponseWriter, r *http.Request, instanceID string)
	ResumeInstance(w http.ResponseWriter, r *http.Request, instanceID string)
	PauseInstance(w http.ResponseWriter, r *http.Request, instanceID string)
	AbortInstance(w http.ResponseWriter, r *http.Request, instanceID string)
	RestoreInstance(w http.ResponseWriter, r *http.Request, instanceID string)
	SubscribeFrames(w http.ResponseWriter, r *http.Request, instanceID string, params SubscribeFramesParams)
	ReleaseActor(w http.ResponseWriter, r *http.Request, actorID string)
}

// GetGraphParams are the query parameters of getGraph.
type GetGraphParams struct {
	Format *string `form:"format,omitempty" json:"format,omitempty"`
}

// SubscribeFramesParams are the query parameters of subscribeFrames.
type SubscribeFramesParams struct {
	Since *uint64 `form:"since,omitempty" json:"since,omitempty"`
}

// handlerFromMux registers the operations of si on r, binding path and
// query parameters the way openapi.yaml declares them.
func handlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	w := &wrapper{si: si}

	r.Get("/health", si.GetHealth)
	r.Get("/graphs", si.ListGraphs)
	r.Get("/graphs/{graphID}", w.getGraph)
	r.Post("/instances", si.StartInstance)
	r.Get("/instances/{instanceID}", w.instance(si.GetSnapshot))
	r.Post("/instances/{instanceID}/advance", w.instance(si.AdvanceInstance))
	r.Post("/instances/{instanceID}/resume", w.instance(si.ResumeInstance))
	r.Post("/instances/{instanceID}/pause", w.instance(si.PauseInstance))
	r.Post("/instances/{instanceID}/abort", w.instance(si.AbortInstance))
	r.Post("/instances/{instanceID}/restore", w.instance(si.RestoreInstance))
	r.Get("/instances/{instanceID}/events", w.subscribeFrames)
	r.Delete("/actors/{actorID}", w.releaseActor)
	return r
}

type wrapper struct {
	si ServerInterface
}

func pathParam(r *http.Request, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", fmt.Errorf("invalid format for parameter %s: %w", name, err)
	}
	return value, nil
}

func (w *wrapper) instance(op func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id, err := pathParam(r, "instanceID")
		if err != nil {
			writeError(rw, http.StatusBadRequest, err.Error(), "", nil)
			return
		}
		op(rw, r, id)
	}
}

func (w *wrapper) getGraph(rw http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "graphID")
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error(), "", nil)
		return
	}
	var params GetGraphParams
	if err := runtime.BindQueryParameter("form", true, false, "format", r.URL.Query(), &params.Format); err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Sprintf("invalid format for parameter format: %v", err), "", nil)
		return
	}
	w.si.GetGraph(rw, r, id, params)
}

func (w *wrapper) subscribeFrames(rw http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "instanceID")
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error(), "", nil)
		return
	}
	var params SubscribeFramesParams
	if err := runtime.BindQueryParameter("form", true, false, "since", r.URL.Query(), &params.Since); err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Sprintf("invalid format for parameter since: %v", err), "", nil)
		return
	}
	w.si.SubscribeFrames(rw, r, id, params)
}

func (w *wrapper) releaseActor(rw http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "actorID")
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error(), "", nil)
		return
	}
	w.si.ReleaseActor(rw, r, id)
}
