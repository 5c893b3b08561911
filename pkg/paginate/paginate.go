// Package paginate slices ordered lists into fixed-size pages and renders
// the navigation row shown under a page.
package paginate

import (
	"fmt"

	"github.com/3leaps/deploybot/pkg/chat"
)

// DefaultPageSize is the number of items per page unless configured.
const DefaultPageSize = 10

// Window returns the items on page (0-indexed) and the total page count.
// The page is clamped into [0, totalPages-1]. An empty input yields no
// items, page 0 and a total of 0. The source slice is never modified.
func Window[T any](items []T, page, size int) ([]T, int, int) {
	if size <= 0 {
		size = DefaultPageSize
	}

	total := TotalPages(len(items), size)
	page = Clamp(page, total)

	start := page * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}

	out := make([]T, end-start)
	copy(out, items[start:end])
	return out, page, total
}

// TotalPages returns ceil(n/size).
func TotalPages(n, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Clamp bounds page into [0, total-1].
func Clamp(page, total int) int {
	if total <= 0 {
		return 0
	}
	if page < 0 {
		return 0
	}
	if page >= total {
		return total - 1
	}
	return page
}

// NavRow returns the previous/next buttons for page. Buttons are omitted at
// the edges. The callback data is prefix followed by the target page number.
func NavRow(prefix string, page, total int) []chat.Button {
	var row []chat.Button
	if page > 0 {
		row = append(row, chat.Button{Label: "⬅️ Trang trước", Data: fmt.Sprintf("%s%d", prefix, page-1)})
	}
	if page < total-1 {
		row = append(row, chat.Button{Label: "Trang sau ➡️", Data: fmt.Sprintf("%s%d", prefix, page+1)})
	}
	return row
}

// Header returns the "(page X/Y)" suffix used in list titles.
func Header(page, total int) string {
	return fmt.Sprintf("(trang %d/%d)", page+1, total)
}
