package models

import "time"

// Course records a generated course directory.
type Course struct {
	ID           string
	Title        string
	Students     string
	Chapters     int
	Sections     int
	Dir          string
	OutlinePath  string
	SectionFiles int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
