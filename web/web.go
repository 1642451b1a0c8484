// Package web embeds the control UI served at the server root.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed all:static
var static embed.FS

// FileSystem returns the embedded UI rooted at its index page.
func FileSystem() http.FileSystem {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		// The embed is compiled in; a bad sub path is a programmer
		// error.
		panic(err)
	}
	return http.FS(sub)
}
