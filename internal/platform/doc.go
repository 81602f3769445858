// Package platform defines the meeting platform collaborator interface
// and a local websocket bridge implementation. The bridge accepts a
// connection from the external meeting automation driver and translates
// its binary frames into audio, participant and meeting-end callbacks.
package platform
