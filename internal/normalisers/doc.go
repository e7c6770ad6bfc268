// Package normalisers holds the text clean-up shared by the format
// normalisers in its subpackages. Each subpackage strips one format's
// markup and hands the text to Finish.
package normalisers
