// Package html provides a Normaliser for HTML documents. Scripts, styles
// and comments are dropped and entities decoded.
package html
