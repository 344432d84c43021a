// Package views renders the server-side HTML pages. The components live in
// the .templ files next to this one.
package views

//go:generate go run github.com/a-h/templ/cmd/templ generate

import (
	"context"
	"fmt"

	"github.com/pavelanni/escuela/internal/i18n"
	"github.com/pavelanni/escuela/internal/model"
	"github.com/pavelanni/escuela/internal/rotation"
)

// Board is the data behind the rotation page.
type Board struct {
	Assignment rotation.Assignment
	Weeks      []rotation.WeekSlot
	InRotation int
}

func loginURL(ctx context.Context) string {
	return model.BasePathFromContext(ctx) + "/login"
}

func weekURL(ctx context.Context, week, seed int) string {
	return fmt.Sprintf("%s/rotation?week=%d&seed=%d", model.BasePathFromContext(ctx), week, seed)
}

func weekLabel(ctx context.Context, week int) string {
	return i18n.Td(ctx, "WeekN", map[string]any{"N": week + 1})
}

// current marks the selected week link for assistive tech and CSS.
func current(selected bool) string {
	if selected {
		return "page"
	}
	return "false"
}
