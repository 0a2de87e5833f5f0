// Package migrations embeds the schema of every service database.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed booking/*.sql reservation/*.sql
var files embed.FS

// Booking is the booking-service schema.
func Booking() fs.FS { return sub("booking") }

// Reservation is the schema shared by the flight, hotel and car services.
func Reservation() fs.FS { return sub("reservation") }

func sub(dir string) fs.FS {
	out, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return out
}
