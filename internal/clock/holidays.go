package clock

// marketHolidays lists full-day US equity market closures, maintained by
// hand one year at a time. Half days (early closes) are deliberately not
// here; the pipeline only cares whether the session happened at all.
//
// Maintenance: append the next year when the exchange publishes its
// schedule. Saturday holidays observe the prior Friday unless that Friday
// closes a year (so 2027-12-31 stays open for New Year 2028).
var marketHolidays = map[int]map[string]bool{
	2024: {
		"2024-01-01": true, // New Year's Day
		"2024-01-15": true, // Martin Luther King Jr. Day
		"2024-02-19": true, // Washington's Birthday
		"2024-03-29": true, // Good Friday
		"2024-05-27": true, // Memorial Day
		"2024-06-19": true, // Juneteenth
		"2024-07-04": true, // Independence Day
		"2024-09-02": true, // Labor Day
		"2024-11-28": true, // Thanksgiving
		"2024-12-25": true, // Christmas
	},
	2025: {
		"2025-01-01": true, // New Year's Day
		"2025-01-09": true, // National day of mourning (President Carter)
		"2025-01-20": true, // Martin Luther King Jr. Day
		"2025-02-17": true, // Washington's Birthday
		"2025-04-18": true, // Good Friday
		"2025-05-26": true, // Memorial Day
		"2025-06-19": true, // Juneteenth
		"2025-07-04": true, // Independence Day
		"2025-09-01": true, // Labor Day
		"2025-11-27": true, // Thanksgiving
		"2025-12-25": true, // Christmas
	},
	2026: {
		"2026-01-01": true, // New Year's Day
		"2026-01-19": true, // Martin Luther King Jr. Day
		"2026-02-16": true, // Washington's Birthday
		"2026-04-03": true, // Good Friday
		"2026-05-25": true, // Memorial Day
		"2026-06-19": true, // Juneteenth
		"2026-07-03": true, // Independence Day (observed, July 4 is a Saturday)
		"2026-09-07": true, // Labor Day
		"2026-11-26": true, // Thanksgiving
		"2026-12-25": true, // Christmas
	},
	2027: {
		"2027-01-01": true, // New Year's Day
		"2027-01-18": true, // Martin Luther King Jr. Day
		"2027-02-15": true, // Washington's Birthday
		"2027-03-26": true, // Good Friday
		"2027-05-31": true, // Memorial Day
		"2027-06-18": true, // Juneteenth (observed, June 19 is a Saturday)
		"2027-07-05": true, // Independence Day (observed, July 4 is a Sunday)
		"2027-09-06": true, // Labor Day
		"2027-11-25": true, // Thanksgiving
		"2027-12-24": true, // Christmas (observed, December 25 is a Saturday)
	},
}
