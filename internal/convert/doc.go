// Package convert runs managed conversion jobs against the shared media engine.
//
// A Runner takes an Input and a CommandSpec, validates them, and drives one
// Job through loading_engine, writing_input, executing, reading_output and
// cleaning_up to done or failed. Every job that reached writing_input has its
// workspace entries deleted before it settles. Progress flows from the
// engine's shared callback to the active job's ProgressChannel; the produced
// Artifact is handed to a ResultHolder that revokes the previous download
// when a new one is attached.
package convert
