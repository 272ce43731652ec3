/*
Package tracefile implements the on-disk artifact of a traced HTTP exchange.

# Overview

Every traced request owns exactly one File. A File is created with Open, which
asks the filesystem for an exclusively created, uniquely named file:

	tracer-<ULID>-<random>.log

The base name (File.ID) is what clients see as the correlation identifier.

# Format

The artifact is a sequence of JSON lines, one Event per line:

	{"seq":1,"time":"...","kind":"marker","marker":"started"}
	{"seq":2,"time":"...","kind":"request-headers","request":{...},"headers":{...}}
	{"seq":3,"time":"...","kind":"response-body","data":"aGVsbG8=","length":5}
	{"seq":4,"time":"...","kind":"marker","marker":"closed"}

Lines are self delimiting and only ever appended, so the file can be read
with Reader while it is still being written. The closed marker is always the
last line of a finalized artifact.

# Usage

	f, err := tracefile.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Record(tracefile.RequestHeaderSnapshot(r)); err != nil {
		logger.Warn("trace write failed", zap.Error(err))
	}
*/
package tracefile
