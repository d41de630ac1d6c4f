// Package analyzer runs the emotion reading cascade over a normalized image:
// face detection gates everything, the in-process classifier produces the
// primary reading, and a hosted vision model is consulted when that reading
// is weak or no classifier is attached. Fallback failures degrade to the
// primary reading instead of failing the request.
package analyzer
