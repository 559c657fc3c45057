package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func pageFor(rawQuery string) Page {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/v1/points?"+rawQuery, nil)
	return PageFromQuery(ctx)
}

func TestPageFromQuery(t *testing.T) {
	tests := []struct {
		query  string
		number int
		limit  int
	}{
		{"", 1, defaultPageSize},
		{"page=3&limit=10", 3, 10},
		{"page=0&limit=-4", 1, defaultPageSize},
		{"page=abc&limit=x", 1, defaultPageSize},
		{"limit=5000", 1, maxPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := pageFor(tt.query)
			assert.Equal(t, tt.number, p.Number)
			assert.Equal(t, tt.limit, p.Limit)
		})
	}
}

func TestNewPagedResponse(t *testing.T) {
	p := Page{Number: 2, Limit: 2}
	assert.Equal(t, 2, p.Offset())

	resp := NewPagedResponse([]string{"KKS-C"}, p, 3)
	assert.Equal(t, PageMeta{CurrentPage: 2, TotalPages: 2, TotalItems: 3, PerPage: 2}, resp.Pagination)

	empty := NewPagedResponse[string](nil, Page{Number: 1, Limit: 20}, 0)
	assert.NotNil(t, empty.Data)
	assert.Zero(t, empty.Pagination.TotalPages)
}
