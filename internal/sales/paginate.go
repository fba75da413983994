package sales

import "payboard/backend/internal/domain"

const DefaultItemsPerPage = 10

// TotalPages is ceil(count / perPage).
func TotalPages(count int, perPage int) int {
	if count <= 0 || perPage <= 0 {
		return 0
	}
	return (count + perPage - 1) / perPage
}

// Paginate slices an already filtered list. Pages are 1-based; a page past
// the end yields an empty slice.
func Paginate(sales []domain.NormalizedSale, page int, perPage int) domain.PaginatedSalesResult {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultItemsPerPage
	}

	start := (page - 1) * perPage
	end := page * perPage
	if start > len(sales) {
		start = len(sales)
	}
	if end > len(sales) {
		end = len(sales)
	}

	pageSales := make([]domain.NormalizedSale, end-start)
	copy(pageSales, sales[start:end])

	return domain.PaginatedSalesResult{
		Sales:       pageSales,
		TotalCount:  len(sales),
		TotalPages:  TotalPages(len(sales), perPage),
		CurrentPage: page,
	}
}
