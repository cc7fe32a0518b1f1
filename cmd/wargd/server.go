package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/bytecodealliance/registry-sub001/pkg/coordinator"
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/httpapi"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/schema"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

// decodeEnvelope runs raw wire bytes through the envelope schema before
// unmarshaling, so malformed input is reported with a precise schema
// error instead of an opaque decode failure.
func decodeEnvelope(r io.Reader) (envelope.Envelope, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := schema.ValidateEnvelope(data); err != nil {
		return envelope.Envelope{}, err
	}
	var env envelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope.Envelope{}, err
	}
	return env, nil
}

// newMux builds the HTTP surface over one Coordinator (§4.6's
// operations, one REST endpoint per operation).
func newMux(c *coordinator.Coordinator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /v1/checkpoint", handleLatestCheckpoint(c))
	mux.HandleFunc("POST /v1/checkpoint/verify", handleVerifyCheckpoint(c))

	mux.HandleFunc("POST /v1/operator/records", handleSubmitOperator(c))
	mux.HandleFunc("GET /v1/operator/records", handleGetOperatorRecords(c))
	mux.HandleFunc("GET /v1/operator/records/{recordID}/status", handleOperatorRecordStatus(c))

	mux.HandleFunc("POST /v1/packages/{logID}/records", handleSubmitPackage(c))
	mux.HandleFunc("GET /v1/packages/{logID}/records", handleGetPackageRecords(c))
	mux.HandleFunc("GET /v1/packages/{logID}/records/{recordID}/status", handlePackageRecordStatus(c))
	mux.HandleFunc("POST /v1/packages/{logID}/records/{recordID}/content/{digest}", handleContentPresent(c))
	mux.HandleFunc("POST /v1/packages/{logID}/records/{recordID}/expire", handleExpirePending(c))

	mux.HandleFunc("GET /v1/proofs/log-inclusion", handleProveLogInclusion(c))
	mux.HandleFunc("GET /v1/proofs/log-consistency", handleProveLogConsistency(c))
	mux.HandleFunc("GET /v1/proofs/map-inclusion", handleProveMapInclusion(c))

	return httpapi.RequestIDMiddleware(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, map[string]string{"status": "ok"})
}

func handleLatestCheckpoint(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tcp, env := c.LatestCheckpoint()
		httpapi.WriteJSON(w, map[string]any{"checkpoint": tcp, "envelope": env})
	}
}

type verifyCheckpointRequest struct {
	PublicKey string            `json:"public_key"`
	Envelope  envelope.Envelope `json:"envelope"`
}

func handleVerifyCheckpoint(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyCheckpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.WriteBadRequest(w, r, "invalid request body")
			return
		}
		pub, err := wargcrypto.ParsePublicKey(req.PublicKey)
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid public_key")
			return
		}
		outcome := c.VerifySignedCheckpoint(pub, req.Envelope)
		httpapi.WriteJSON(w, map[string]string{"outcome": string(outcome)})
	}
}

func handleSubmitOperator(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := decodeEnvelope(r.Body)
		if err != nil {
			httpapi.WriteBadRequest(w, r, err.Error())
			return
		}
		res, err := c.SubmitOperator(r.Context(), env)
		if err != nil {
			httpapi.WriteInternal(w, r, err)
			return
		}
		httpapi.WriteJSON(w, res)
	}
}

func handleGetOperatorRecords(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, limit, err := parseCursor(r)
		if err != nil {
			httpapi.WriteBadRequest(w, r, err.Error())
			return
		}
		envs, err := c.GetOperatorRecords(r.Context(), since, limit)
		if err != nil {
			httpapi.WriteInternal(w, r, err)
			return
		}
		httpapi.WriteJSON(w, envs)
	}
}

func handleOperatorRecordStatus(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, err := digest.Parse(r.PathValue("recordID"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid record id")
			return
		}
		writeRecordStatus(w, r, c, record.OperatorLogID(), recordID)
	}
}

type submitPackageRequest struct {
	Envelope              envelope.Envelope `json:"envelope"`
	MissingContentDigests []string          `json:"missing_content_digests,omitempty"`
}

func handleSubmitPackage(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logID, err := digest.Parse(r.PathValue("logID"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid log id")
			return
		}
		var req submitPackageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.WriteBadRequest(w, r, "invalid request body")
			return
		}
		envBytes, err := json.Marshal(req.Envelope)
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid envelope")
			return
		}
		if err := schema.ValidateEnvelope(envBytes); err != nil {
			httpapi.WriteBadRequest(w, r, err.Error())
			return
		}
		missing := make([]digest.Digest, 0, len(req.MissingContentDigests))
		for _, s := range req.MissingContentDigests {
			d, err := digest.Parse(s)
			if err != nil {
				httpapi.WriteBadRequest(w, r, "invalid missing content digest")
				return
			}
			missing = append(missing, d)
		}
		res, err := c.SubmitPackage(r.Context(), logID, req.Envelope, missing)
		if err != nil {
			httpapi.WriteInternal(w, r, err)
			return
		}
		httpapi.WriteJSON(w, res)
	}
}

func handleGetPackageRecords(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logID, err := digest.Parse(r.PathValue("logID"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid log id")
			return
		}
		since, limit, err := parseCursor(r)
		if err != nil {
			httpapi.WriteBadRequest(w, r, err.Error())
			return
		}
		envs, err := c.GetPackageRecords(r.Context(), logID, since, limit)
		if err != nil {
			httpapi.WriteInternal(w, r, err)
			return
		}
		httpapi.WriteJSON(w, envs)
	}
}

func handlePackageRecordStatus(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logID, err := digest.Parse(r.PathValue("logID"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid log id")
			return
		}
		recordID, err := digest.Parse(r.PathValue("recordID"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid record id")
			return
		}
		writeRecordStatus(w, r, c, logID, recordID)
	}
}

func writeRecordStatus(w http.ResponseWriter, r *http.Request, c *coordinator.Coordinator, logID, recordID digest.Digest) {
	stored, found, err := c.GetRecordStatus(r.Context(), logID, recordID)
	if err != nil {
		httpapi.WriteInternal(w, r, err)
		return
	}
	if !found {
		httpapi.WriteNotFound(w, r, "record not found")
		return
	}
	httpapi.WriteJSON(w, stored)
}

func handleContentPresent(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logID, err := digest.Parse(r.PathValue("logID"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid log id")
			return
		}
		recordID, err := digest.Parse(r.PathValue("recordID"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid record id")
			return
		}
		d, err := digest.Parse(r.PathValue("digest"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid digest")
			return
		}
		if err := c.ContentPresent(r.Context(), logID, recordID, d); err != nil {
			httpapi.WriteInternal(w, r, err)
			return
		}
		httpapi.WriteJSON(w, map[string]string{"status": "ok"})
	}
}

type expirePendingRequest struct {
	Reason string `json:"reason"`
}

func handleExpirePending(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logID, err := digest.Parse(r.PathValue("logID"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid log id")
			return
		}
		recordID, err := digest.Parse(r.PathValue("recordID"))
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid record id")
			return
		}
		var req expirePendingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := c.ExpirePending(r.Context(), logID, recordID, req.Reason); err != nil {
			httpapi.WriteConflict(w, r, err.Error())
			return
		}
		httpapi.WriteJSON(w, map[string]string{"status": "ok"})
	}
}

func handleProveLogInclusion(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		length, err := strconv.ParseUint(r.URL.Query().Get("checkpoint_length"), 10, 64)
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid checkpoint_length")
			return
		}
		indices, err := parseUintList(r.URL.Query()["leaf_index"])
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid leaf_index")
			return
		}
		bundle, err := c.ProveLogInclusion(length, indices)
		if err != nil {
			httpapi.WriteBadRequest(w, r, err.Error())
			return
		}
		httpapi.WriteJSON(w, bundle)
	}
}

func handleProveLogConsistency(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid from")
			return
		}
		to, err := strconv.ParseUint(r.URL.Query().Get("to"), 10, 64)
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid to")
			return
		}
		bundle, err := c.ProveLogConsistency(from, to)
		if err != nil {
			httpapi.WriteBadRequest(w, r, err.Error())
			return
		}
		httpapi.WriteJSON(w, bundle)
	}
}

func handleProveMapInclusion(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		length, err := strconv.ParseUint(r.URL.Query().Get("checkpoint_length"), 10, 64)
		if err != nil {
			httpapi.WriteBadRequest(w, r, "invalid checkpoint_length")
			return
		}
		logIDStrs := r.URL.Query()["log_id"]
		logIDs := make([]digest.Digest, 0, len(logIDStrs))
		for _, s := range logIDStrs {
			d, err := digest.Parse(s)
			if err != nil {
				httpapi.WriteBadRequest(w, r, "invalid log_id")
				return
			}
			logIDs = append(logIDs, d)
		}
		bundle, err := c.ProveMapInclusion(length, logIDs)
		if err != nil {
			httpapi.WriteBadRequest(w, r, err.Error())
			return
		}
		httpapi.WriteJSON(w, bundle)
	}
}

func parseCursor(r *http.Request) (digest.Digest, int, error) {
	var since digest.Digest
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := digest.Parse(s)
		if err != nil {
			return digest.Digest{}, 0, err
		}
		since = d
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return digest.Digest{}, 0, err
		}
		limit = n
	}
	return since, limit, nil
}

func parseUintList(ss []string) ([]uint64, error) {
	out := make([]uint64, 0, len(ss))
	for _, s := range ss {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
