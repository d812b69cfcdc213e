package catalog

var servicePeriods = []Period{
	{Name: "Morning", Hours: "08:30-12:00"},
	{Name: "Afternoon", Hours: "13:00-16:00"},
	{Name: "Evening", Hours: "16:01-20:00"},
}

// Default is the campus catalog used when the config file leaves a section empty.
func Default() Config {
	return Config{
		Sports: []Sport{
			{Key: "football", Name: "Football", MinParticipants: 6},
			{Key: "volleyball", Name: "Volleyball", MinParticipants: 6},
			{Key: "badminton", Name: "Badminton", MinParticipants: 4},
			{Key: "tabletennis", Name: "Table Tennis", MinParticipants: 2},
		},
		Exercise: []Facility{
			{ID: "gym", Name: "KM Wellness Gym", UnitLabel: "Station", TotalUnits: 20, Periods: servicePeriods},
			{ID: "pool", Name: "Swimming Pool", UnitLabel: "Lane", TotalUnits: 8, Periods: servicePeriods},
		},
		Coworking: []Space{
			{ID: "hm-private-room", Hub: "HM", Name: "Private Room", Location: "HM", TotalUnits: 2, UnitLabel: "Room"},
			{ID: "hm-605-table", Hub: "HM", Name: "Open Tables", Location: "HM-605", TotalUnits: 12, UnitLabel: "Table"},
			{ID: "hm-7f-table", Hub: "HM", Name: "Open Tables", Location: "HM 7th Floor", TotalUnits: 6, UnitLabel: "Table"},
			{ID: "kllc-meeting-room", Hub: "KLLC", Name: "Meeting Room", Location: "KLLC", TotalUnits: 2, UnitLabel: "Room"},
			{ID: "kllc-karaoke", Hub: "KLLC", Name: "Karaoke Room", Location: "KLLC", TotalUnits: 1, UnitLabel: "Room"},
			{ID: "kllc-game-room", Hub: "KLLC", Name: "Game Room", Location: "KLLC", TotalUnits: 1, UnitLabel: "Room"},
		},
	}
}
