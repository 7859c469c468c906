package handlers

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"nkit/internal/fault"
	"nkit/internal/repositories"
	"nkit/internal/responses"
	"nkit/internal/services"
	"nkit/internal/utils"
)

const (
	countPath     = "Count"
	countLongPath = "CountLong"
)

// TableHandler serves CRUD endpoints for every table of the schema. Bodies
// are bound to the synthesized row type of the addressed table.
type TableHandler struct {
	entities *services.EntityService
	faults   *fault.Handler
	maxLimit int
}

func NewTableHandler(entities *services.EntityService, faults *fault.Handler, maxLimit int) *TableHandler {
	return &TableHandler{
		entities: entities,
		faults:   faults,
		maxLimit: maxLimit,
	}
}

// Get handles GET /api/v1/:entity/:id, including the Count and CountLong
// pseudo ids.
func (h *TableHandler) Get(c *gin.Context) {
	entity := c.Param("entity")
	id := c.Param("id")

	switch id {
	case countPath:
		h.count(c, entity, false)
		return
	case countLongPath:
		h.count(c, entity, true)
		return
	}

	acc, err := h.entities.Resolve(entity)
	if err != nil {
		fail(c, h.faults, err, "Unknown entity")
		return
	}

	rec, err := h.entities.Get(c.Request.Context(), entity, id)
	if err != nil {
		fail(c, h.faults, err, fmt.Sprintf("Failed to get %s %s", entity, id))
		return
	}

	row, err := acc.Entity.FromRecord(rec)
	if err != nil {
		fail(c, h.faults, err, "Failed to map row")
		return
	}
	responses.Success(c, http.StatusOK, row, "")
}

func (h *TableHandler) count(c *gin.Context, entity string, long bool) {
	n, err := h.entities.Count(c.Request.Context(), entity)
	if err != nil {
		fail(c, h.faults, err, "Failed to count rows")
		return
	}

	if long {
		responses.Success(c, http.StatusOK, gin.H{"count": n}, "")
		return
	}
	if n > math.MaxInt32 {
		fail(c, h.faults, fmt.Errorf("%s has %d rows, more than Count can return", entity, n), "Row count overflows int32, use CountLong")
		return
	}
	responses.Success(c, http.StatusOK, gin.H{"count": int32(n)}, "")
}

// List handles GET /api/v1/:entity. With searchBy and searchValueOf it
// returns the matching rows, without them every row.
func (h *TableHandler) List(c *gin.Context) {
	entity := c.Param("entity")

	limit, err := utils.ParseLimit(c.Query("limit"), h.maxLimit)
	if err != nil {
		fail(c, h.faults, fmt.Errorf("%w: %v", errInvalidBody, err), "Invalid limit")
		return
	}

	acc, err := h.entities.Resolve(entity)
	if err != nil {
		fail(c, h.faults, err, "Unknown entity")
		return
	}

	searchBy, hasBy := c.GetQuery("searchBy")
	searchValue, hasValue := c.GetQuery("searchValueOf")

	var recs []repositories.Record
	switch {
	case !hasBy && !hasValue:
		recs, err = h.entities.List(c.Request.Context(), entity, limit)
	case hasBy && hasValue:
		recs, err = h.entities.Search(c.Request.Context(), entity, searchBy, searchValue, limit)
	default:
		err = fmt.Errorf("%w: searchBy and searchValueOf must be used together", errInvalidBody)
	}
	if err != nil {
		fail(c, h.faults, err, fmt.Sprintf("Failed to query %s", entity))
		return
	}

	rows, err := rowsOf(acc, recs)
	if err != nil {
		fail(c, h.faults, err, "Failed to map rows")
		return
	}
	responses.Success(c, http.StatusOK, rows, "")
}

// Insert handles POST /api/v1/:entity.
func (h *TableHandler) Insert(c *gin.Context) {
	entity := c.Param("entity")
	acc, err := h.entities.Resolve(entity)
	if err != nil {
		fail(c, h.faults, err, "Unknown entity")
		return
	}

	rec, err := bindRecord(c, acc)
	if err != nil {
		fail(c, h.faults, err, "Invalid request body")
		return
	}

	inserted, err := h.entities.Insert(c.Request.Context(), entity, rec)
	if err != nil {
		fail(c, h.faults, err, fmt.Sprintf("Failed to insert into %s", entity))
		return
	}

	row, err := acc.Entity.FromRecord(inserted)
	if err != nil {
		fail(c, h.faults, err, "Failed to map row")
		return
	}
	responses.Success(c, http.StatusCreated, row, "Row inserted")
}

// Update handles PUT /api/v1/:entity. Every column is written; the row is
// found by its surrogate key.
func (h *TableHandler) Update(c *gin.Context) {
	entity := c.Param("entity")
	acc, err := h.entities.Resolve(entity)
	if err != nil {
		fail(c, h.faults, err, "Unknown entity")
		return
	}

	rec, err := bindRecord(c, acc)
	if err != nil {
		fail(c, h.faults, err, "Invalid request body")
		return
	}

	if err := h.entities.Update(c.Request.Context(), entity, rec); err != nil {
		fail(c, h.faults, err, fmt.Sprintf("Failed to update %s", entity))
		return
	}

	row, err := acc.Entity.FromRecord(rec)
	if err != nil {
		fail(c, h.faults, err, "Failed to map row")
		return
	}
	responses.Success(c, http.StatusOK, row, "Row updated")
}

// Delete handles DELETE /api/v1/:entity/:id.
func (h *TableHandler) Delete(c *gin.Context) {
	entity := c.Param("entity")
	id := c.Param("id")

	if err := h.entities.Delete(c.Request.Context(), entity, id); err != nil {
		fail(c, h.faults, err, fmt.Sprintf("Failed to delete %s %s", entity, id))
		return
	}
	responses.Success(c, http.StatusOK, nil, "Row deleted")
}

// DeleteAll handles DELETE /api/v1/:entity.
func (h *TableHandler) DeleteAll(c *gin.Context) {
	entity := c.Param("entity")

	n, err := h.entities.DeleteAll(c.Request.Context(), entity)
	if err != nil {
		fail(c, h.faults, err, fmt.Sprintf("Failed to delete from %s", entity))
		return
	}
	responses.Success(c, http.StatusOK, gin.H{"deleted": n}, "Rows deleted")
}

// SaveAll handles POST /api/v1/:entity/batch: every row is saved in one
// transaction.
func (h *TableHandler) SaveAll(c *gin.Context) {
	entity := c.Param("entity")
	acc, err := h.entities.Resolve(entity)
	if err != nil {
		fail(c, h.faults, err, "Unknown entity")
		return
	}

	recs, err := bindRecords(c, acc)
	if err != nil {
		fail(c, h.faults, err, "Invalid request body")
		return
	}

	saved, err := h.entities.SaveAll(c.Request.Context(), entity, recs)
	if err != nil {
		fail(c, h.faults, err, fmt.Sprintf("Failed to save %s rows", entity))
		return
	}

	rows, err := rowsOf(acc, saved)
	if err != nil {
		fail(c, h.faults, err, "Failed to map rows")
		return
	}
	responses.Success(c, http.StatusOK, rows, fmt.Sprintf("%d rows saved", len(saved)))
}

func bodyBinding(c *gin.Context) binding.BindingBody {
	switch c.ContentType() {
	case binding.MIMEXML, binding.MIMEXML2:
		return binding.XML
	case binding.MIMEYAML, responses.MIMEYAML:
		return binding.YAML
	}
	return binding.JSON
}

// bindRecord decodes the body into the synthesized row type and returns it
// as a record of every column.
func bindRecord(c *gin.Context, acc *services.Accessor) (repositories.Record, error) {
	v := acc.Entity.New()
	if err := c.ShouldBindWith(v, bodyBinding(c)); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	rec, err := acc.Entity.ToRecord(v)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// bindRecords decodes a list of rows. An XML list is any root element
// wrapping one element per row, named like the table.
func bindRecords(c *gin.Context, acc *services.Accessor) ([]repositories.Record, error) {
	if b := bodyBinding(c); b == binding.XML {
		return decodeXMLRows(c.Request.Body, acc)
	}

	slice := acc.Entity.NewSlice()
	if err := c.ShouldBindWith(slice, bodyBinding(c)); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
	}

	rv := reflect.ValueOf(slice).Elem()
	recs := make([]repositories.Record, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		rec, err := acc.Entity.ToRecord(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func decodeXMLRows(r io.Reader, acc *services.Accessor) ([]repositories.Record, error) {
	dec := xml.NewDecoder(r)
	var recs []repositories.Record
	depth := 0

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth != 2 {
				continue
			}
			v := acc.Entity.New()
			if err := dec.DecodeElement(v, &t); err != nil {
				return nil, fmt.Errorf("%w: row %d: %v", errInvalidBody, len(recs), err)
			}
			depth--
			rec, err := acc.Entity.ToRecord(v)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		case xml.EndElement:
			depth--
		}
	}
	return recs, nil
}

// rowsOf converts records to a slice of synthesized row pointers so every
// response format can encode them.
func rowsOf(acc *services.Accessor, recs []repositories.Record) (any, error) {
	rows := reflect.MakeSlice(reflect.SliceOf(reflect.PointerTo(acc.Entity.Type)), 0, len(recs))
	for _, rec := range recs {
		row, err := acc.Entity.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = reflect.Append(rows, reflect.ValueOf(row))
	}
	return rows.Interface(), nil
}
