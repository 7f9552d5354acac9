// Package cmd holds the cobra commands of the riakfs binary.
package cmd
