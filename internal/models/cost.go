package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

type CostItem struct {
	Item string  `json:"item"`
	Cost float64 `json:"cost"`
}

type LaborItem struct {
	Description string  `json:"description"`
	Hours       float64 `json:"hours"`
	Rate        float64 `json:"rate"`
	Cost        float64 `json:"cost"`
}

type CostEstimate struct {
	Materials []CostItem  `json:"materials"`
	Labor     []LaborItem `json:"labor"`
	Other     []CostItem  `json:"other"`
	Total     float64     `json:"total"`
}

func (c CostEstimate) Value() (driver.Value, error) { return jsonValue(c) }
func (c *CostEstimate) Scan(src any) error { return jsonScan(src, c) }

// Sum adds every line item.
func (c *CostEstimate) Sum() float64 {
	var total float64
	for _, m := range c.Materials {
		total += m.Cost
	}
	for _, l := range c.Labor {
		total += l.Cost
	}
	for _, o := range c.Other {
		total += o.Cost
	}
	return total
}

// Breakdown renders the estimate as plain text for prompts.
func (c *CostEstimate) Breakdown() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	if len(c.Materials) > 0 {
		b.WriteString("Materials:\n")
		for _, m := range c.Materials {
			fmt.Fprintf(&b, "- %s: $%.0f\n", m.Item, m.Cost)
		}
	}
	if len(c.Labor) > 0 {
		b.WriteString("Labor:\n")
		for _, l := range c.Labor {
			fmt.Fprintf(&b, "- %s (%.0f hours @ $%.0f/hr): $%.0f\n", l.Description, l.Hours, l.Rate, l.Cost)
		}
	}
	if len(c.Other) > 0 {
		b.WriteString("Other:\n")
		for _, o := range c.Other {
			fmt.Fprintf(&b, "- %s: $%.0f\n", o.Item, o.Cost)
		}
	}
	fmt.Fprintf(&b, "Total: $%.0f", c.Total)
	return b.String()
}
