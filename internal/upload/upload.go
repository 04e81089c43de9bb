// Package upload wires the parser, handler state machine, updaters, and
// diffResult assembler together inside a single transaction (spec.md §4.8,
// §6.1-§6.2) — the entry point the (out of scope) HTTP layer calls.
package upload

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/config"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/diffresult"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/handler"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osmparser"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/storage"
)

// ContentType identifies which parser front-end and which diffResult
// encoding to use (spec.md §6.1).
type ContentType int

const (
	ContentTypeXML ContentType = iota
	ContentTypeJSON
)

// Request is the upload engine's entry point contract (spec.md §6.1).
// Authentication and rate-limit accounting happen upstream; Request
// carries only what the core needs.
type Request struct {
	ChangesetID osm.ChangesetID
	UploaderID  osm.UserID
	ContentType ContentType
	Accept      ContentType
	Payload     []byte
	// RequestID correlates this upload across logs and traces
	// (spec.md §6.1 "request_context"). Generated when zero.
	RequestID uuid.UUID
}

// Generator is the value written into every diffResult's generator attribute.
const Generator = "osmupload"

// Run executes one complete upload: parse, flush through the handler
// state machine, verify and update the changeset, assemble the
// diffResult, and commit — all inside one storage.Session transaction
// (spec.md §4.8). Returns the serialized diffResult body and its media type.
func Run(ctx context.Context, store *storage.Store, limits config.Limits, req Request) ([]byte, string, error) {
	if req.RequestID == uuid.Nil {
		req.RequestID = uuid.New()
	}
	log := slog.With("request_id", req.RequestID, "changeset_id", req.ChangesetID)
	log.Info("upload started")

	var entries []diffresult.Entry

	err := store.RunUpload(ctx, req.ChangesetID, req.UploaderID, limits, func(ctx context.Context, sess *storage.Session) error {
		// Acquired first, per spec.md §5 "Cross-upload ordering": this
		// serializes every upload against the same changeset before any
		// entity is processed, and rejects a changeset that is already
		// closed up front. new_changes is not yet known here, so the
		// element-count quota is rechecked against the delta by
		// UpdateChangeset below.
		current, err := sess.LockCurrentChangeset(ctx, true)
		if err != nil {
			return err
		}

		h := handler.New(ctx, sess, req.ChangesetID)
		parserLimits := osmparser.Limits{
			MaxTagsPerElement:  limits.MaxTagsPerElement,
			MaxWayNodes:        limits.MaxWayNodes,
			MaxRelationMembers: limits.MaxRelationMembers,
			TagCodepoints:      limits.TagValueMaxCodepoints,
		}

		var parseErr error
		switch req.ContentType {
		case ContentTypeJSON:
			parseErr = osmparser.ParseJSON(req.Payload, parserLimits, h)
		default:
			parseErr = osmparser.ParseXML(req.Payload, parserLimits, h)
		}
		if parseErr != nil {
			return parseErr
		}

		if err := sess.UpdateChangeset(ctx, current, h.GetNumChanges(), h.GetBBox()); err != nil {
			return err
		}
		if sess.GetBBox().LinearSize() > limits.MaxBBoxLinearSize {
			return apierror.PayloadTooLarge("upload bbox linear size %d exceeds limit %d", sess.GetBBox().LinearSize(), limits.MaxBBoxLinearSize)
		}

		assembled, err := diffresult.Assemble(sess.Tracker)
		if err != nil {
			return err
		}
		entries = assembled
		return nil
	})
	if err != nil {
		log.Warn("upload failed", "error", err)
		return nil, "", err
	}
	log.Info("upload committed", "changes", len(entries))

	if req.Accept == ContentTypeJSON {
		body, err := diffresult.EncodeJSON(entries, Generator)
		return body, "application/json", err
	}
	body, err := diffresult.EncodeXML(entries, Generator)
	return body, "application/xml", err
}
