// Package emotion defines the closed emotion vocabulary and the wire types
// shared by the serving daemon, the gateway, and the inference client.
package emotion
