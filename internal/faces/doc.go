// Package faces implements the face detection gate in front of the emotion
// classifier. Detection runs fully in-process on a binary cascade; when no
// cascade is configured the detector stays disabled and every image reports
// zero faces.
package faces
