package reentry

// NativeCapacity is how many (goroutine, hook) pairs the assembly accessors
// track at once, summed over all goroutines.
const NativeCapacity = 512
