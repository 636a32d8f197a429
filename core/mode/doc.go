// Package mode switches the installation between its three operating
// modes. AUTO hands the pumps to the scheduler, MANUAL accepts direct
// ON/OFF commands and OFF keeps every pump stopped.
package mode
