package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvitation_EffectiveStatus(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	inv := &Invitation{Status: InvitationPending, ExpiresAt: created.Add(InvitationTTL)}

	assert.Equal(t, InvitationPending, inv.EffectiveStatus(created.Add(59*time.Minute)))
	assert.Equal(t, InvitationPending, inv.EffectiveStatus(created.Add(time.Hour)))
	assert.Equal(t, InvitationExpired, inv.EffectiveStatus(created.Add(61*time.Minute)))

	inv.Status = InvitationAccepted
	assert.Equal(t, InvitationAccepted, inv.EffectiveStatus(created.Add(2*time.Hour)))
}

func TestInvitationCounts_MajorityDeclined(t *testing.T) {
	tests := []struct {
		name   string
		counts InvitationCounts
		want   bool
	}{
		{"no invitations", InvitationCounts{}, false},
		{"two of three", InvitationCounts{Total: 3, Declined: 2}, true},
		{"one of three", InvitationCounts{Total: 3, Declined: 1}, false},
		{"half is not a majority", InvitationCounts{Total: 4, Declined: 2}, false},
		{"single decline", InvitationCounts{Total: 1, Declined: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.counts.MajorityDeclined())
		})
	}
}

func TestReservation_SetDetails(t *testing.T) {
	r := &Reservation{}
	r.SetDetails(CoworkingDetails{Hub: "HM", SpaceID: "hm-605-table", SpaceName: "Open Tables", Location: "HM-605", UnitLabel: "Table", UnitNumber: 3})

	assert.Equal(t, CategoryCoworking, r.Category)
	assert.Equal(t, "coworking:HM:hm-605-table:3", r.ResourceKey)
	assert.Nil(t, r.Sport)
	assert.Equal(t, "Table 3", r.Details().Unit())
	assert.Equal(t, "Open Tables (HM-605), Table 3", r.Title())

	r.SetDetails(SportDetails{Sport: "badminton", SportName: "Badminton"})
	assert.Nil(t, r.Coworking)
	assert.Equal(t, "sport:badminton", r.ResourceKey)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a.b@uni.ac.th", NormalizeEmail("  A.B@Uni.AC.th "))
}
