// Package batch splits large item sets into chunks that are driven one call
// at a time, either straight through the artifact executor or onto the work
// queue.
//
// A Job is persisted under "batch:<id>" and every ProcessChunk call runs
// under the lock "batch:<id>", so repeated polls from several clients never
// process the same chunk twice. Each call handles at most chunk_size items
// and returns; callers keep polling until the job reports completed.
package batch
