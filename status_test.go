package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/merchantry/ordersync/internal/sync"
)

func TestOrderTotals(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "none", orderTotals(nil))
	})

	t.Run("single currency", func(t *testing.T) {
		orders := []*sync.LocalOrder{
			{Currency: "USD", TotalCents: 1299},
			{Currency: "USD", TotalCents: 701},
		}
		assert.Equal(t, "USD 20.00", orderTotals(orders))
	})

	t.Run("mixed currencies sorted", func(t *testing.T) {
		orders := []*sync.LocalOrder{
			{Currency: "USD", TotalCents: 500},
			{Currency: "EUR", TotalCents: 250},
		}
		assert.Equal(t, "EUR 2.50, USD 5.00", orderTotals(orders))
	})
}
