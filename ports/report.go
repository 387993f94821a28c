package ports

import "context"

// ReportRenderer turns a Markdown report into a presentation format
type ReportRenderer interface {
	Render(ctx context.Context, title string, markdown []byte) ([]byte, error)
}
