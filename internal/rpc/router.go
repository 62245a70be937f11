// Package rpc implements the RPC Router (spec L11 / §4.11): typed
// procedures grouped into session/message/events/config/todo routers,
// exposed both in-process (call the Router's methods directly) and over
// HTTP (this package's http.go), with a security level and rate-limiting
// hook per procedure.
//
// Grounded on the teacher's internal/server package for the HTTP/SSE shape
// (chi route tree, hand-rolled SSE writer, JSON error envelope), generalized
// from the teacher's REST-resource routes onto the spec's
// router.procedure naming and query/mutation/subscription kinds, and wired
// to this repo's Session Store, Streaming Engine, Compaction Service, and
// Event Bus instead of the teacher's session.Service/storage.Storage.
package rpc

import (
	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/internal/compaction"
	"github.com/agentcore-ai/agentcore/internal/events"
	"github.com/agentcore-ai/agentcore/internal/modelregistry"
	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/sessionstore"
	"github.com/agentcore-ai/agentcore/internal/stream"
)

// Level is a procedure's security classification (spec §4.11 "Security
// hooks"). moderate and strict procedures are rate-limited per caller
// identity (see http.go's identity).
type Level string

const (
	Public   Level = "public"
	Moderate Level = "moderate"
	Strict   Level = "strict"
)

// Router wires the five procedure groups to their collaborators. A
// zero-value Router is not usable; build one with New.
type Router struct {
	store     *sessionstore.Store
	bus       *events.Bus
	engine    *stream.Engine
	compactor *compaction.Service
	providers *provider.Registry
	models    *modelregistry.Registry
	limiter   Limiter
	directory string
	logger    zerolog.Logger

	Session *sessionRouter
	Message *messageRouter
	Events  *eventsRouter
	Todo    *todoRouter
	Config  *configRouter
}

// New wires a Router from its collaborators. directory is the project
// directory config.load/save resolve against.
func New(
	store *sessionstore.Store,
	bus *events.Bus,
	engine *stream.Engine,
	compactor *compaction.Service,
	providers *provider.Registry,
	models *modelregistry.Registry,
	directory string,
	logger zerolog.Logger,
) *Router {
	r := &Router{
		store:     store,
		bus:       bus,
		engine:    engine,
		compactor: compactor,
		providers: providers,
		models:    models,
		limiter:   NewTokenBucketLimiter(),
		directory: directory,
		logger:    logger,
	}
	r.Session = &sessionRouter{r: r}
	r.Message = &messageRouter{r: r}
	r.Events = &eventsRouter{r: r}
	r.Todo = &todoRouter{r: r}
	r.Config = &configRouter{r: r}
	return r
}
