package database

import (
	"embed"
	"io/fs"
)

// embeddedMigrations, migrations/ dizinindeki SQL dosyalarını binary'ye gömer.
//
//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations, gömülü migration dosyalarını kök dizin olarak döner.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		// migrations/ derleme zamanında gömüldüğü için bu yola düşülmez.
		panic(err)
	}
	return sub
}
