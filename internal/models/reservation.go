package models

import (
	"fmt"
	"time"
)

// Reservation is a booked unit of a resource for a date and time slot.
// Exactly one of Sport, Exercise or Coworking is set, matching Category.
type Reservation struct {
	ID              string            `json:"id"`
	Category        Category          `json:"category"`
	ResourceKey     string            `json:"resource_key"`
	Date            string            `json:"date"`
	TimeSlot        string            `json:"time_slot"`
	HostID          string            `json:"host_id"`
	HostName        string            `json:"host_name"`
	Participants    []string          `json:"participants"`
	MinParticipants int               `json:"min_participants"`
	Status          ReservationStatus `json:"status"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`

	Sport     *SportDetails     `json:"sport,omitempty"`
	Exercise  *ExerciseDetails  `json:"exercise,omitempty"`
	Coworking *CoworkingDetails `json:"coworking,omitempty"`
}

// ResourceDetails is the category specific part of a reservation.
type ResourceDetails interface {
	Category() Category
	ResourceKey() string
	// Unit names the booked unit in user facing messages, e.g. "Table 3".
	Unit() string
}

type SportDetails struct {
	Sport     string `json:"sport"`
	SportName string `json:"sport_name"`
}

func (SportDetails) Category() Category    { return CategorySport }
func (d SportDetails) ResourceKey() string { return "sport:" + d.Sport }
func (d SportDetails) Unit() string        { return d.SportName }

type ExerciseDetails struct {
	Facility     string `json:"facility"`
	FacilityName string `json:"facility_name"`
	UnitLabel    string `json:"unit_label"`
	UnitNumber   int    `json:"unit_number"`
}

func (ExerciseDetails) Category() Category { return CategoryExercise }

func (d ExerciseDetails) ResourceKey() string {
	return fmt.Sprintf("exercise:%s:%d", d.Facility, d.UnitNumber)
}

func (d ExerciseDetails) Unit() string { return fmt.Sprintf("%s %d", d.UnitLabel, d.UnitNumber) }

type CoworkingDetails struct {
	Hub        string `json:"hub"`
	SpaceID    string `json:"space_id"`
	SpaceName  string `json:"space_name"`
	Location   string `json:"location"`
	UnitLabel  string `json:"unit_label"`
	UnitNumber int    `json:"unit_number"`
}

func (CoworkingDetails) Category() Category { return CategoryCoworking }

func (d CoworkingDetails) ResourceKey() string {
	return fmt.Sprintf("coworking:%s:%s:%d", d.Hub, d.SpaceID, d.UnitNumber)
}

func (d CoworkingDetails) Unit() string { return fmt.Sprintf("%s %d", d.UnitLabel, d.UnitNumber) }

// Details returns the populated payload or nil when none is set.
func (r *Reservation) Details() ResourceDetails {
	switch {
	case r.Sport != nil:
		return *r.Sport
	case r.Exercise != nil:
		return *r.Exercise
	case r.Coworking != nil:
		return *r.Coworking
	}
	return nil
}

// SetDetails stores d in the matching payload field and syncs Category and ResourceKey.
func (r *Reservation) SetDetails(d ResourceDetails) {
	r.Sport, r.Exercise, r.Coworking = nil, nil, nil
	switch v := d.(type) {
	case SportDetails:
		r.Sport = &v
	case ExerciseDetails:
		r.Exercise = &v
	case CoworkingDetails:
		r.Coworking = &v
	default:
		return
	}
	r.Category = d.Category()
	r.ResourceKey = d.ResourceKey()
}

// Title is a short human readable label used in emails and exports.
func (r *Reservation) Title() string {
	d := r.Details()
	if d == nil {
		return string(r.Category)
	}
	switch v := d.(type) {
	case SportDetails:
		return v.SportName
	case ExerciseDetails:
		return fmt.Sprintf("%s, %s", v.FacilityName, v.Unit())
	case CoworkingDetails:
		return fmt.Sprintf("%s (%s), %s", v.SpaceName, v.Location, v.Unit())
	}
	return d.Unit()
}

func (r *Reservation) IsCancelled() bool {
	return r.Status == ReservationCancelled
}

// SlotFilter narrows booked slot queries. Empty fields are ignored.
type SlotFilter struct {
	Category         Category
	Date             string
	TimeSlot         string
	KeyPrefix        string
	HostID           string
	FromDate         string
	ToDate           string
	IncludeCancelled bool
}
