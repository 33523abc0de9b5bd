package oms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListChangedSince(t *testing.T) {
	since := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)

	t.Run("single page", func(t *testing.T) {
		var gotSince string

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotSince = r.URL.Query().Get("modified_since")
			json.NewEncoder(w).Encode(ordersPage{ //nolint:errcheck
				Orders: []Order{
					{ExternalID: "ext-1", OrderNumber: "WEB-1001", Status: "confirmed"},
					{ExternalID: "ext-2", OrderNumber: "POS-2001", Status: "shipped"},
				},
			})
		}))
		defer server.Close()

		client, _ := newTestClient(t, server, nil)

		orders, err := client.ListChangedSince(context.Background(), since)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, "WEB-1001", orders[0].OrderNumber)
		assert.Equal(t, since.Format(time.RFC3339), gotSince)
	})

	t.Run("follows pagination cursors", func(t *testing.T) {
		var cursors []string

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cursor := r.URL.Query().Get("cursor")
			cursors = append(cursors, cursor)

			page := ordersPage{Orders: []Order{{ExternalID: "ext-" + cursor, OrderNumber: "WEB-" + cursor}}}

			switch cursor {
			case "":
				page.Orders[0].OrderNumber = "WEB-1"
				page.NextCursor = "c2"
			case "c2":
				page.NextCursor = "c3"
			}

			json.NewEncoder(w).Encode(page) //nolint:errcheck
		}))
		defer server.Close()

		client, _ := newTestClient(t, server, nil)

		orders, err := client.ListChangedSince(context.Background(), since)
		require.NoError(t, err)
		assert.Len(t, orders, 3)
		assert.Equal(t, []string{"", "c2", "c3"}, cursors)
	})

	t.Run("missing order number rejects the listing", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ordersPage{ //nolint:errcheck
				Orders: []Order{{ExternalID: "ext-1"}},
			})
		}))
		defer server.Close()

		client, _ := newTestClient(t, server, nil)

		_, err := client.ListChangedSince(context.Background(), since)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no order number")
	})

	t.Run("page failure aborts the whole listing", func(t *testing.T) {
		var calls int

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				json.NewEncoder(w).Encode(ordersPage{ //nolint:errcheck
					Orders:     []Order{{ExternalID: "ext-1", OrderNumber: "WEB-1"}},
					NextCursor: "c2",
				})
				return
			}

			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		client, _ := newTestClient(t, server, nil)

		_, err := client.ListChangedSince(context.Background(), since)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("runaway cursors hit the page bound", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ordersPage{ //nolint:errcheck
				Orders:     []Order{{ExternalID: "ext-1", OrderNumber: "WEB-1"}},
				NextCursor: "again",
			})
		}))
		defer server.Close()

		client, _ := newTestClient(t, server, nil)

		_, err := client.ListChangedSince(context.Background(), since)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pagination exceeded")
	})
}

func TestGetOrder(t *testing.T) {
	t.Run("decodes detail with lines", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/orders/ext-1", r.URL.Path)

			fmt.Fprint(w, `{
				"id": "ext-1",
				"order_number": "WEB-1001",
				"status": "confirmed",
				"customer_name": "Ada Lovelace",
				"total_cents": 1299,
				"currency": "USD",
				"lines": [
					{"sku": "SKU-1", "quantity": 2, "unit_cents": 500},
					{"sku": "SKU-2", "quantity": 1, "unit_cents": 299}
				]
			}`)
		}))
		defer server.Close()

		client, _ := newTestClient(t, server, nil)

		detail, err := client.GetOrder(context.Background(), "ext-1")
		require.NoError(t, err)
		assert.Equal(t, "WEB-1001", detail.OrderNumber)
		assert.Equal(t, int64(1299), detail.TotalCents)
		require.Len(t, detail.Lines, 2)
		assert.Equal(t, "SKU-1", detail.Lines[0].SKU)
		assert.Equal(t, 2, detail.Lines[0].Quantity)
	})

	t.Run("missing order is ErrNotFound", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client, _ := newTestClient(t, server, nil)

		_, err := client.GetOrder(context.Background(), "ext-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
