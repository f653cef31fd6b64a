package daemon

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cachegen/internal/api"
	"cachegen/internal/app"
	"cachegen/internal/artifact"
	"cachegen/internal/batch"
	"cachegen/internal/logging"
	"cachegen/internal/progress"
	"cachegen/internal/queue"
	"cachegen/internal/services"
)

type handlers struct {
	daemon *Daemon
	app    *app.App
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.daemon.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handlers) listQueue(w http.ResponseWriter, r *http.Request) {
	statuses, err := api.ParseStatuses(r.URL.Query()["status"])
	if err != nil {
		h.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list queue", err.Error(), nil))
		return
	}
	items, err := h.app.Manager.Items(r.Context(), statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.QueueListResponse{Items: api.FromQueueItems(items)})
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	var body api.EnqueueRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := body.ToQueueRequest()
	if err != nil {
		h.writeError(w, r, services.Wrap(services.ErrValidation, "api", "enqueue", err.Error(), nil))
		return
	}
	res, err := h.app.Manager.Enqueue(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, api.EnqueueResponse{Item: api.FromQueueItem(res.Item), Created: res.Created})
}

func (h *handlers) enqueueBulk(w http.ResponseWriter, r *http.Request) {
	var body api.BulkEnqueueRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(body.Items) == 0 {
		h.writeError(w, r, services.Wrap(services.ErrValidation, "api", "enqueue bulk", "no items", nil))
		return
	}
	reqs := make([]queue.EnqueueRequest, 0, len(body.Items))
	var rejected []api.RejectedRequest
	indexes := make([]int, 0, len(body.Items))
	for i, item := range body.Items {
		req, err := item.ToQueueRequest()
		if err != nil {
			rejected = append(rejected, api.RejectedRequest{Index: i, TargetID: item.TargetID, Error: err.Error()})
			continue
		}
		reqs = append(reqs, req)
		indexes = append(indexes, i)
	}
	report, err := h.app.Manager.EnqueueBulk(r.Context(), reqs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := api.FromBulkReport(report)
	for i := range resp.Rejected {
		resp.Rejected[i].Index = indexes[resp.Rejected[i].Index]
	}
	resp.Rejected = append(rejected, resp.Rejected...)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) retryFailed(w http.ResponseWriter, r *http.Request) {
	var body api.RetryRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	count, err := h.app.Manager.RetryFailed(r.Context(), body.IDs...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CountResponse{Count: count})
}

func (h *handlers) clearQueue(w http.ResponseWriter, r *http.Request) {
	var body api.ClearRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	statuses, err := api.ParseStatuses(body.Statuses)
	if err != nil {
		h.writeError(w, r, services.Wrap(services.ErrValidation, "api", "clear queue", err.Error(), nil))
		return
	}
	count, err := h.app.Manager.Clear(r.Context(), statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CountResponse{Count: count})
}

func (h *handlers) getProgress(w http.ResponseWriter, r *http.Request) {
	session, err := h.app.Progress.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handlers) cancelProgress(w http.ResponseWriter, r *http.Request) {
	session, err := h.app.Progress.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handlers) startBatch(w http.ResponseWriter, r *http.Request) {
	var body api.StartBatchRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.app.Batches.StartBatch(r.Context(), body.Items, body.Operation, body.ChunkSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.StartBatchResponse{BatchID: id})
}

func (h *handlers) getBatch(w http.ResponseWriter, r *http.Request) {
	job, err := h.app.Batches.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) processChunk(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Batches.ProcessChunk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) cancelBatch(w http.ResponseWriter, r *http.Request) {
	job, err := h.app.Batches.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) listLocks(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.Locks.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.LockListResponse{Locks: api.FromLockRecords(records)})
}

func (h *handlers) releaseLocks(w http.ResponseWriter, r *http.Request) {
	released, err := h.daemon.ReleaseAllLocks(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CountResponse{Count: int64(released)})
}

func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	result := h.app.Executor.Generate(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, resultStatus(result), result)
}

func (h *handlers) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	result := h.app.Executor.Delete(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, resultStatus(result), result)
}

// resultStatus maps an executor result code onto an HTTP status. The body is
// always the full result so clients see rollback details.
func resultStatus(result artifact.Result) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Code {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindLocked:
		return http.StatusConflict
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindProducer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	kind := services.Kind(err)
	switch {
	case errors.Is(err, batch.ErrCancelled), errors.Is(err, progress.ErrClosed):
		status = http.StatusConflict
		kind = "closed"
	case kind == services.KindValidation:
		status = http.StatusBadRequest
	case kind == services.KindNotFound:
		status = http.StatusNotFound
	case kind == services.KindLocked:
		status = http.StatusConflict
	case kind == services.KindProducer:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), h.logger), "api request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the daemon log for the failing component"),
		)
	}
	writeJSON(w, status, errorBody(strings.TrimSpace(err.Error()), kind))
}
