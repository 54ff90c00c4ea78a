package service

import (
	"strings"

	"receiptly/internal/dto"
	"receiptly/internal/models"
)

// categoryColors follows the palette the dashboard renders with.
var categoryColors = map[models.Category]string{
	models.CategoryFood:      "#22c55e",
	models.CategoryTransport: "#3b82f6",
	models.CategoryLodging:   "#f59e0b",
	models.CategoryOptical:   "#8b5cf6",
	models.CategoryOther:     "#94a3b8",
}

// BuildCategoryChart aggregates verified spending per category. Only
// verified receipts with a positive amount contribute, and categories
// with no contribution are omitted entirely. Output order follows the
// canonical category order, so equal inputs render identically.
func BuildCategoryChart(receipts []*models.Receipt) []dto.ChartDatum {
	totals := make(map[models.Category]float64)
	for _, receipt := range receipts {
		if !receipt.IsVerified || receipt.Amount <= 0 {
			continue
		}
		totals[receipt.Category] += receipt.Amount
	}

	data := make([]dto.ChartDatum, 0, len(totals))
	for _, category := range models.Categories() {
		total, ok := totals[category]
		if !ok {
			continue
		}
		data = append(data, dto.ChartDatum{
			Name:  capitalize(string(category)),
			Value: total,
			Color: categoryColors[category],
		})
	}
	return data
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
