package handler

import (
	"context"
	"log/slog"
	"net/http"

	"client-portal/internal/access"
	"client-portal/internal/middleware"
	"client-portal/internal/model"
	"client-portal/internal/resource"
	"github.com/gin-gonic/gin"
)

type ResourceStore interface {
	List(ctx context.Context, schema *resource.Schema, owner string, conds []resource.Condition) ([]model.Row, error)
	Get(ctx context.Context, schema *resource.Schema, owner, id string) (model.Row, error)
	Exists(ctx context.Context, table, owner, id string) (bool, error)
	Create(ctx context.Context, schema *resource.Schema, owner string, values resource.Values) (model.Row, error)
	Update(ctx context.Context, schema *resource.Schema, owner, id string, values resource.Values) (model.Row, error)
	Delete(ctx context.Context, schema *resource.Schema, owner, id string) (bool, error)
}

// ResourceHandler serves list/get/create/update/delete for one schema.
// Each operation resolves the session, authorizes it, then touches storage.
type ResourceHandler struct {
	Schema *resource.Schema
	Store  ResourceStore
	Policy access.Policy
	Logger *slog.Logger
}

func (h *ResourceHandler) Register(g *gin.RouterGroup) {
	path := "/" + h.Schema.Plural()
	g.GET(path, h.List)
	g.POST(path, h.Create)
	g.GET(path+"/:id", h.Get)
	g.PATCH(path+"/:id", h.Update)
	g.DELETE(path+"/:id", h.Delete)
}

func (h *ResourceHandler) authorize(c *gin.Context, action access.Action) (access.Grant, bool) {
	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		fail(c, h.Logger, h.Schema.Singular, access.ErrUnauthenticated)
		return access.Grant{}, false
	}
	grant, err := h.Policy.Authorize(sess, action, h.Schema.Table)
	if err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return access.Grant{}, false
	}
	return grant, true
}

func (h *ResourceHandler) List(c *gin.Context) {
	grant, ok := h.authorize(c, access.ActionList)
	if !ok {
		return
	}

	rows, err := h.Store.List(c.Request.Context(), h.Schema, grant.Owner, h.Schema.ParseFilters(c.Request.URL.Query()))
	if err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{h.Schema.Plural(): rows})
}

func (h *ResourceHandler) Get(c *gin.Context) {
	grant, ok := h.authorize(c, access.ActionRead)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	row, err := h.Store.Get(ctx, h.Schema, grant.Owner, id)
	if err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return
	}

	resp := gin.H{h.Schema.Singular: row}
	for _, dep := range h.Schema.Dependents {
		children, err := h.Store.List(ctx, dep.Schema, grant.Owner, []resource.Condition{{Column: dep.Column, Value: id}})
		if err != nil {
			h.Logger.WarnContext(ctx, "dependent fetch failed",
				"resource", h.Schema.Singular,
				"id", id,
				"dependent", dep.Key,
				"error", err,
			)
			children = []model.Row{}
		}
		resp[dep.Key] = children
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ResourceHandler) Create(c *gin.Context) {
	grant, ok := h.authorize(c, access.ActionCreate)
	if !ok {
		return
	}

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	values, err := h.Schema.DecodeCreate(body)
	if err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.checkRefs(ctx, grant.Owner, values); err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return
	}
	row, err := h.Store.Create(ctx, h.Schema, grant.Owner, values)
	if err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{h.Schema.Singular: row})
}

func (h *ResourceHandler) Update(c *gin.Context) {
	grant, ok := h.authorize(c, access.ActionUpdate)
	if !ok {
		return
	}

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	values, err := h.Schema.DecodeUpdate(body)
	if err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.checkRefs(ctx, grant.Owner, values); err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return
	}
	row, err := h.Store.Update(ctx, h.Schema, grant.Owner, c.Param("id"), values)
	if err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{h.Schema.Singular: row})
}

func (h *ResourceHandler) Delete(c *gin.Context) {
	grant, ok := h.authorize(c, access.ActionDelete)
	if !ok {
		return
	}

	id := c.Param("id")
	deleted, err := h.Store.Delete(c.Request.Context(), h.Schema, grant.Owner, id)
	if err != nil {
		fail(c, h.Logger, h.Schema.Singular, err)
		return
	}
	if !deleted {
		h.Logger.DebugContext(c.Request.Context(), "delete matched no rows", "resource", h.Schema.Singular, "id", id)
	}
	// deleting a missing id is reported as success
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// checkRefs rejects references to rows the owner cannot see.
func (h *ResourceHandler) checkRefs(ctx context.Context, owner string, values resource.Values) error {
	for _, f := range h.Schema.Refs(values) {
		id, _ := values[f.Column].(string)
		ok, err := h.Store.Exists(ctx, f.RefTable, owner, id)
		if err != nil {
			return err
		}
		if !ok {
			return &resource.ValidationError{Field: f.Name, Message: "references an unknown record"}
		}
	}
	return nil
}
