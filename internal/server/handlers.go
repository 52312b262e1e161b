package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/catalogue"
	"github.com/eugener/llmsim/internal/config"
	"github.com/eugener/llmsim/internal/simulator"
)

const maxBodyBytes = 32 << 20 // generous ceiling above the translation payload limit, read fully before dispatch

// handleSimulated forwards every /openai/deployments/... request into the
// pipeline, then writes the resulting status/headers/body, driving a
// streaming response through an http.Flusher when the pipeline returns one.
func (s *server) handleSimulated(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, codeErrorBody("BadRequest", "failed to read request body"))
		return
	}

	req := &simulator.Request{
		Method: r.Method,
		Path:   r.URL.RequestURI(),
		Header: r.Header,
		Body:   body,
	}

	resp := s.deps.Pipeline.Handle(r.Context(), req)

	if resp.Stream != nil {
		writeSSEHeaders(w)
		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err := resp.Stream(r.Context(), w, flush); err != nil {
			writeSSEError(w, err.Error())
			flush()
		}
		return
	}

	h := w.Header()
	for k, vv := range resp.Header {
		h[k] = vv
	}
	if resp.ContentType != "" {
		h.Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// handleSaveRecordings flushes every in-memory recording path to disk.
// Only meaningful in record mode.
func (s *server) handleSaveRecordings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config.Snapshot().Mode != llmsim.ModeRecord {
		writeJSON(w, http.StatusBadRequest, codeErrorBody("BadRequest", "save-recordings requires record mode"))
		return
	}
	for _, path := range s.deps.Store.Paths() {
		if err := s.deps.Persister.Save(path, s.deps.Store.Entries(path)); err != nil {
			s.deps.Logger.Error("save recordings failed", "path", path, "error", err)
			writeJSON(w, http.StatusInternalServerError, codeErrorBody("InternalError", "failed to save recordings"))
			return
		}
	}
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("recordings saved"))
}

// configView is the sanitized, JSON-serializable projection of the running
// config snapshot and deployment catalogue returned by GET /++/config.
type configView struct {
	Mode                      llmsim.Mode               `json:"mode"`
	AllowUndefinedDeployments bool                      `json:"allowUndefinedDeployments"`
	Latency                   latencyView               `json:"latency"`
	Deployments               map[string]deploymentView `json:"deployments"`
}

type latencyView struct {
	Completions     paramsView `json:"completions"`
	ChatCompletions paramsView `json:"chatCompletions"`
	Embeddings      paramsView `json:"embeddings"`
	Translations    paramsView `json:"translations"`
}

type paramsView struct {
	MeanMS   float64 `json:"meanMs"`
	StdDevMS float64 `json:"stdDevMs"`
}

type deploymentView struct {
	Model             string `json:"model"`
	TokensPerMinute   int    `json:"tokensPerMinute"`
	RequestsPerMinute int    `json:"requestsPerMinute"`
	EmbeddingSize     int    `json:"embeddingSize"`
}

func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.buildConfigView())
}

func (s *server) buildConfigView() configView {
	snap := s.deps.Config.Snapshot()
	view := configView{
		Mode:                      snap.Mode,
		AllowUndefinedDeployments: snap.AllowUndefinedDeployments,
		Latency: latencyView{
			Completions:     paramsView{snap.Latency.Completions.MeanMS, snap.Latency.Completions.StdDevMS},
			ChatCompletions: paramsView{snap.Latency.ChatCompletions.MeanMS, snap.Latency.ChatCompletions.StdDevMS},
			Embeddings:      paramsView{snap.Latency.Embeddings.MeanMS, snap.Latency.Embeddings.StdDevMS},
			Translations:    paramsView{snap.Latency.Translations.MeanMS, snap.Latency.Translations.StdDevMS},
		},
		Deployments: make(map[string]deploymentView),
	}
	for _, d := range s.deps.Catalogue.List() {
		view.Deployments[d.Name] = deploymentView{
			Model:             d.Model.Name,
			TokensPerMinute:   d.TokensPerMinute,
			RequestsPerMinute: d.RequestsPerMinute,
			EmbeddingSize:     d.EmbeddingSize,
		}
	}
	return view
}

// configPatch is the partial update accepted by PATCH /++/config. Every
// field is optional; absent fields leave the running configuration
// untouched. Deployments are merged (added or replaced), never wholesale
// reset, matching the catalogue's Put/Get mutation model.
type configPatch struct {
	Mode                      *string                   `json:"mode"`
	AllowUndefinedDeployments *bool                     `json:"allowUndefinedDeployments"`
	Latency                   *latencyPatch             `json:"latency"`
	Deployments               map[string]deploymentView `json:"deployments"`
}

type latencyPatch struct {
	Completions     *paramsView `json:"completions"`
	ChatCompletions *paramsView `json:"chatCompletions"`
	Embeddings      *paramsView `json:"embeddings"`
	Translations    *paramsView `json:"translations"`
}

func (s *server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, codeErrorBody("BadRequest", "invalid JSON body"))
		return
	}

	if patch.Mode != nil {
		mode := llmsim.Mode(*patch.Mode)
		switch mode {
		case llmsim.ModeGenerate, llmsim.ModeRecord, llmsim.ModeReplay:
		default:
			writeJSON(w, http.StatusBadRequest, codeErrorBody("BadRequest", "invalid mode "+strconv.Quote(*patch.Mode)))
			return
		}
	}

	s.deps.Config.Patch(func(snap config.Snapshot) config.Snapshot {
		if patch.Mode != nil {
			snap.Mode = llmsim.Mode(*patch.Mode)
		}
		if patch.AllowUndefinedDeployments != nil {
			snap.AllowUndefinedDeployments = *patch.AllowUndefinedDeployments
		}
		if patch.Latency != nil {
			applyLatencyPatch(&snap.Latency.Completions, patch.Latency.Completions)
			applyLatencyPatch(&snap.Latency.ChatCompletions, patch.Latency.ChatCompletions)
			applyLatencyPatch(&snap.Latency.Embeddings, patch.Latency.Embeddings)
			applyLatencyPatch(&snap.Latency.Translations, patch.Latency.Translations)
		}
		return snap
	})

	for name, d := range patch.Deployments {
		model, ok := catalogue.LookupModel(d.Model)
		if !ok {
			writeJSON(w, http.StatusBadRequest, codeErrorBody("BadRequest", "unknown model "+strconv.Quote(d.Model)))
			return
		}
		embeddingSize := d.EmbeddingSize
		if embeddingSize == 0 {
			embeddingSize = 1536
		}
		s.deps.Catalogue.Put(llmsim.Deployment{
			Name:              name,
			Model:             model,
			TokensPerMinute:   d.TokensPerMinute,
			RequestsPerMinute: d.RequestsPerMinute,
			EmbeddingSize:     embeddingSize,
		})
	}

	writeJSON(w, http.StatusOK, s.buildConfigView())
}

func applyLatencyPatch(dst *config.LatencyParams, src *paramsView) {
	if src == nil {
		return
	}
	dst.MeanMS = src.MeanMS
	dst.StdDevMS = src.StdDevMS
}
