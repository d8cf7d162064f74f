// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/services/evidence"
	"github.com/regulus-hq/regulus/services/rules"
	"github.com/regulus-hq/regulus/services/storage/badgerstore"
)

func newServeFixture(t *testing.T) (*gin.Engine, *rules.BadgerStore) {
	t.Helper()

	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a := &app{
		logger:    logging.New(logging.Config{Quiet: true}),
		ruleStore: rules.NewBadgerStore(db),
		evStore:   evidence.NewBadgerStore(db),
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	setupRoutes(router, a)
	return router, a.ruleStore
}

func TestServePublishedRulesOnly(t *testing.T) {
	router, store := newServeFixture(t)
	ctx := context.Background()

	_, err := store.SaveRule(ctx, rules.RegulatoryRule{
		ConceptSlug: "pdv-standard-rate", Value: "25", Authority: rules.AuthorityLaw,
		Status: rules.StatusPublished,
	})
	require.NoError(t, err)
	_, err = store.SaveRule(ctx, rules.RegulatoryRule{
		ConceptSlug: "pdv-reduced-rate", Value: "13", Authority: rules.AuthorityLaw,
		Status: rules.StatusDraft,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rules/published", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int                    `json:"count"`
		Rules []rules.RegulatoryRule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count, "drafts are not consumer-visible")
	assert.Equal(t, "pdv-standard-rate", body.Rules[0].ConceptSlug)
}

func TestServeRuleByID(t *testing.T) {
	router, store := newServeFixture(t)

	saved, err := store.SaveRule(context.Background(), rules.RegulatoryRule{
		ConceptSlug: "pdv-standard-rate", Value: "25", Authority: rules.AuthorityLaw,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rules/"+saved.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rules/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeOpenConflicts(t *testing.T) {
	router, store := newServeFixture(t)

	_, err := store.SaveConflict(context.Background(), rules.RegulatoryConflict{
		Type: rules.ConflictValueMismatch, ItemAID: "a", ItemBID: "b",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conflicts/open", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALUE_MISMATCH")
}

func TestServeHealthz(t *testing.T) {
	router, _ := newServeFixture(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
