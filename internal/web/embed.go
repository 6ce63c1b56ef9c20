// Package web serves the dashboard bundle built into the binary.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

//go:embed dist/*
var bundle embed.FS

// Bundle returns the embedded dist directory.
func Bundle() fs.FS {
	sub, err := fs.Sub(bundle, "dist")
	if err != nil {
		// dist is fixed at compile time
		panic(err)
	}
	return sub
}

// HasBundle reports whether a built dashboard (an index.html) was embedded.
func HasBundle(fsys fs.FS) bool {
	_, err := fs.Stat(fsys, "index.html")
	return err == nil
}

// Register serves fsys for every path outside /api. Unknown paths get
// index.html so client-side routes survive a reload. It returns false and
// registers nothing when fsys holds no index.html.
func Register(e *echo.Echo, fsys fs.FS) bool {
	if !HasBundle(fsys) {
		return false
	}
	e.Use(middleware.StaticWithConfig(middleware.StaticConfig{
		Root:       ".",
		Index:      "index.html",
		HTML5:      true,
		Filesystem: http.FS(fsys),
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/api")
		},
	}))
	return true
}
