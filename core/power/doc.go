// Package power smooths noisy production and consumption readings and
// defines the Source the scheduler polls for the available power budget.
package power
