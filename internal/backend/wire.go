package backend

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"signage/internal/model"
)

type envelope[T any] struct {
	Data []T `json:"data"`
}

type wireLocation struct {
	ID    int    `json:"id_lokasi"`
	Name  string `json:"lokasi"`
	Image string `json:"image"`
}

func (w wireLocation) toModel() model.Location {
	return model.Location{ID: w.ID, Name: w.Name, Image: w.Image}
}

type wireRecord struct {
	ID          int            `json:"id_display"`
	Title       string         `json:"judul"`
	Description string         `json:"deskripsi"`
	Media       string         `json:"media"`
	Start       string         `json:"waktu_mulai"`
	End         string         `json:"waktu_selesai"`
	Status      string         `json:"status"`
	Category    string         `json:"kategori"`
	Locations   []wireLocation `json:"lokasi"`
}

func (w wireRecord) toModel(tz *time.Location) (model.DisplayRecord, error) {
	start, err := parseTimestamp(w.Start, tz)
	if err != nil {
		return model.DisplayRecord{}, fmt.Errorf("%w: waktu_mulai: %v", ErrDecode, err)
	}
	end, err := parseTimestamp(w.End, tz)
	if err != nil {
		return model.DisplayRecord{}, fmt.Errorf("%w: waktu_selesai: %v", ErrDecode, err)
	}
	cat, err := parseCategory(w.Category)
	if err != nil {
		return model.DisplayRecord{}, err
	}

	locs := make([]int, 0, len(w.Locations))
	for _, l := range w.Locations {
		locs = append(locs, l.ID)
	}

	return model.DisplayRecord{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		MediaRef:    w.Media,
		Start:       start,
		End:         end,
		Category:    cat,
		Locations:   locs,
	}, nil
}

func parseCategory(s string) (model.Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "event":
		return model.CategoryEvent, nil
	case "informasi", "information":
		return model.CategoryInformation, nil
	default:
		return "", fmt.Errorf("%w: unknown kategori %q", ErrDecode, s)
	}
}

// Layouts without an offset are interpreted in the display timezone.
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

func parseTimestamp(s string, tz *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, tz); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
