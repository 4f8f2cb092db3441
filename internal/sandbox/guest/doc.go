/*
Package guest runs the Tier 1 static analysis module in a WebAssembly
sandbox.

The analysis module is untrusted code. It is compiled once and instantiated
fresh for every file, with a linear memory cap, a wall-clock deadline and an
optional call budget. The host touches guest memory only through
foreignMemory, which re-reads the memory size and bounds-checks every range
before copying.

Guest ABI:

	allocate(size i32) -> ptr i32
	analyze_file(ptr i32, len i32) -> record_ptr i32
	deallocate(ptr i32, size i32)        optional
	memory                               exported linear memory

	env.log(level i32, ptr i32, len i32) host import, optional
	env.current_time_ms() -> i64          host import, optional

When the runtime, the module or the guest misbehaves, Execute returns a
result computed by conservative host heuristics with Fallback set. Execute
itself never fails.
*/
package guest
