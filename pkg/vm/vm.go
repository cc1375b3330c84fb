// Package vm implements the bytecode virtual machine: a stack-based
// interpreter with a value stack, a call-frame stack, an instruction
// pointer, and per-class vtable dispatch.
//
// Execution model:
//
//	Chunk (from pkg/compiler) -> VM.Run -> Value stack + Call-frame stack
//
// The VM fetches one instruction at a time from the chunk, dispatches on
// its opcode, and either manipulates the stack in place or moves the
// instruction pointer. Slot N of the currently executing function lives
// at value_stack[frame.base+N]; Call/TailCall/Return manage that window.
package vm

import (
	"fmt"

	"github.com/quilllang/quill/pkg/bytecode"
	"github.com/quilllang/quill/pkg/gc"
	"github.com/quilllang/quill/pkg/value"
)

// CallFrame is one entry of the VM's call-frame stack.
type CallFrame struct {
	ReturnIP     int
	Base         int // index into the value stack where this frame's locals begin
	IsMethodCall bool
	FuncName     string
	Upvalues     []interface{} // captured values, indexed by GetFree/SetFree; nil for plain functions
}

// handler is a pushed SetupTry record.
type handler struct {
	CatchIP    int
	StackDepth int
	FrameDepth int
}

// Spawner hands a function value plus its already-evaluated arguments off
// to a concurrent runtime. pkg/scheduler implements this; the VM package
// itself stays free of scheduler internals to avoid an import cycle
// (the scheduler runs VM instances to execute goroutine bodies).
type Spawner interface {
	Spawn(fn interface{}, args []interface{}, globals map[string]interface{})
}

// ChannelFactory builds a concurrency-runtime-backed channel. pkg/scheduler
// supplies one; without it MakeChannel raises a runtime error, since a
// channel is only meaningful with a scheduler on the other end of its
// send/receive blocking.
type ChannelFactory func(capacity int) value.Channel

// VM is a single-threaded bytecode interpreter instance. The scheduler
// package creates one VM per goroutine; the driver creates one for the
// top-level program.
type VM struct {
	chunk    *bytecode.Chunk
	stack    []interface{}
	frames   []CallFrame
	globals  map[string]interface{}
	handlers []handler

	ip int

	spawner        Spawner
	channelFactory ChannelFactory

	// heap is the GC hook façade (pkg/gc); nil-safe, so a VM never bound
	// to one (SetHeap not called) pays nothing at allocation sites.
	heap *gc.Heap

	// instrCount supports cooperative preemption: the scheduler reads
	// this via Snapshot/Restore to decide when a goroutine has used its
	// budget (spec.md §4.4's safepoint interval).
	instrCount int64
}

// SetHeap attaches the allocator façade that the array, map, struct and
// class-instance opcodes report into and that Run queries before each
// instruction.
func (vm *VM) SetHeap(h *gc.Heap) { vm.heap = h }

// New creates a VM bound to chunk. Globals persist for the VM's lifetime;
// the value stack and call-frame stack start empty. Every top-level
// function chunk.Functions names is seeded into globals as a callable
// *value.Function, so `OpGetGlobal` on a function's own name (forward
// references included, since pass 1 reserves the entry before pass 2 has
// even compiled the body) resolves to something Call/TailCall accepts.
func New(chunk *bytecode.Chunk) *VM {
	return NewWithGlobals(chunk, nil)
}

// NewWithGlobals creates a VM bound to chunk that shares globals by
// reference rather than starting from an empty table. The scheduler uses
// this to give every goroutine spawned from the same program the same
// live globals map, so a write to a global in one goroutine is visible
// to the others (spec.md §5: top-level functions/classes/vars are shared
// freely; the runtime provides no implicit locking on the writes
// themselves). A nil globals map behaves like New.
func NewWithGlobals(chunk *bytecode.Chunk, globals map[string]interface{}) *VM {
	if globals == nil {
		globals = make(map[string]interface{})
	}
	vm := &VM{
		chunk:   chunk,
		stack:   make([]interface{}, 0, 256),
		frames:  make([]CallFrame, 0, 64),
		globals: globals,
	}
	vm.SyncGlobals()
	return vm
}

// SyncGlobals seeds vm.globals with any chunk.Functions entries that
// weren't there yet. REPL evaluation compiles new top-level functions
// into the same chunk after the VM was already constructed, so it calls
// this before each Run to pick up names the constructor's one-time pass
// couldn't have seen.
func (vm *VM) SyncGlobals() {
	for name, fi := range vm.chunk.Functions {
		if fi.IsMethod || fi.IsStatic {
			continue
		}
		if _, exists := vm.globals[name]; exists {
			continue
		}
		entry, ok := vm.chunk.Constants[fi.ConstIndex].(int)
		if !ok {
			continue
		}
		vm.globals[name] = &value.Function{Name: name, Entry: entry, ParamNames: fi.ParamNames}
	}
}

// SetSpawner attaches the concurrency runtime GoSpawn hands work to. When
// nil, GoSpawn runs the goroutine body inline on this VM (non-concurrent
// mode, per spec.md §4.3).
func (vm *VM) SetSpawner(s Spawner) { vm.spawner = s }

// SetChannelFactory attaches the concurrency runtime's channel constructor.
func (vm *VM) SetChannelFactory(f ChannelFactory) { vm.channelFactory = f }

// Globals exposes the VM's global-variable table so a scheduler can seed
// a new goroutine's VM with the spawning VM's globals by reference
// (spec.md §5: the chunk's top-level functions/classes/vars are shared
// freely across goroutines; coordination on writes is the caller's job).
func (vm *VM) Globals() map[string]interface{} { return vm.globals }

func (vm *VM) push(v interface{}) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() interface{} {
	n := len(vm.stack)
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) top() interface{} { return vm.stack[len(vm.stack)-1] }

func (vm *VM) currentBase() int {
	if len(vm.frames) == 0 {
		return 0
	}
	return vm.frames[len(vm.frames)-1].Base
}

func (vm *VM) getLocal(slot int) interface{}    { return vm.stack[vm.currentBase()+slot] }
func (vm *VM) setLocal(slot int, v interface{}) { vm.stack[vm.currentBase()+slot] = v }

// currentUpvalues returns the executing frame's captured values, or nil
// when the frame belongs to a plain (non-closure) function.
func (vm *VM) currentUpvalues() []interface{} {
	if len(vm.frames) == 0 {
		return nil
	}
	return vm.frames[len(vm.frames)-1].Upvalues
}

func (vm *VM) currentLine() int {
	if vm.ip >= 0 && vm.ip < len(vm.chunk.Instructions) {
		return vm.chunk.Instructions[vm.ip].Line
	}
	return 0
}

func (vm *VM) raise(format string, args ...interface{}) *RuntimeError {
	return newRuntimeError(fmt.Sprintf(format, args...), vm.snapshotTrace())
}

func (vm *VM) snapshotTrace() []StackFrame {
	trace := make([]StackFrame, 0, len(vm.frames)+1)
	for _, f := range vm.frames {
		trace = append(trace, StackFrame{Name: f.FuncName, IP: f.ReturnIP, SourceLine: vm.currentLine()})
	}
	return trace
}

// Run executes the chunk's instructions starting from the VM's current ip
// (0 for a freshly constructed VM; wherever call/PrepareCall left it for a
// nested VM priming a goroutine body) until Halt, a top-level Return, or a
// runtime error. It does not reset ip itself — doing so would clobber an
// entry point a prior call() already set, which is exactly the bug that
// made the non-concurrent GoSpawn fallback silently re-run the chunk from
// instruction 0 instead of the spawned function's body.
func (vm *VM) Run() (interface{}, error) {
	var result interface{}
	for {
		if vm.ip < 0 || vm.ip >= len(vm.chunk.Instructions) {
			return result, nil
		}
		in := vm.chunk.Instructions[vm.ip]
		vm.instrCount++
		if vm.heap.ShouldCollect() {
			// Safepoint hook (spec.md §2/§4): a real collector would run
			// here, between instructions, with the value stack and call
			// frames in a consistent state. This core has none, so the
			// query is advisory-only; resetting avoids re-querying every
			// instruction once the threshold is crossed once.
			vm.heap.Reset()
		}

		halted, retVal, err := vm.step(in)
		if err != nil {
			if handled := vm.unwindTo(err); handled {
				continue
			}
			return nil, err
		}
		if halted {
			return retVal, nil
		}
	}
}

// step executes one instruction, advancing vm.ip. It returns
// (true, value, nil) when execution should stop (Halt or top-level
// Return), and (false, nil, err) on a runtime fault so Run can attempt
// exception unwinding.
func (vm *VM) step(in bytecode.Instruction) (bool, interface{}, error) {
	op := in.Op
	operand := in.Operand
	vm.ip++

	switch op {
	case bytecode.OpHalt:
		if len(vm.stack) > 0 {
			return true, vm.top(), nil
		}
		return true, nil, nil

	case bytecode.OpPushNull:
		vm.push(nil)
	case bytecode.OpPushTrue:
		vm.push(true)
	case bytecode.OpPushFalse:
		vm.push(false)
	case bytecode.OpConstInt8:
		vm.push(int64(int8(operand)))
	case bytecode.OpConst:
		vm.push(vm.chunk.Constants[operand])
	case bytecode.OpPop:
		vm.pop()
	case bytecode.OpDup:
		vm.push(vm.top())

	case bytecode.OpGetLocal:
		vm.push(vm.getLocal(operand))
	case bytecode.OpSetLocal:
		vm.setLocal(operand, vm.top())
	case bytecode.OpGetLocalInt:
		vm.push(vm.getLocal(operand).(int64))
	case bytecode.OpGetLocalAddInt:
		slot, imm := bytecode.Unpack(operand)
		local := vm.getLocal(slot)
		if n, ok := local.(int64); ok {
			vm.push(n + int64(int16(imm)))
		} else {
			// The compiler only fuses this opcode for a statically
			// int-tagged local, but defend against a stale/mistyped tag
			// rather than a hard type-assertion panic.
			vm.push(addValues(local, int64(int16(imm))))
		}
	case bytecode.OpGetLocalLeInt:
		slot, imm := bytecode.Unpack(operand)
		local := vm.getLocal(slot)
		if n, ok := local.(int64); ok {
			vm.push(n <= int64(int16(imm)))
		} else {
			res, err := compare(bytecode.OpLe, local, int64(int16(imm)))
			if err != nil {
				return false, nil, vm.raise("%s", err)
			}
			vm.push(res)
		}
	case bytecode.OpAddLocals:
		a, b := bytecode.Unpack(operand)
		vm.push(addValues(vm.getLocal(a), vm.getLocal(b)))
	case bytecode.OpGetGlobal:
		name := vm.chunk.Constants[operand].(string)
		v, ok := vm.globals[name]
		if !ok {
			return false, nil, vm.raise("undefined global %q", name)
		}
		vm.push(v)
	case bytecode.OpSetGlobal:
		name := vm.chunk.Constants[operand].(string)
		vm.globals[name] = vm.top()
	case bytecode.OpGetFree:
		ups := vm.currentUpvalues()
		if operand < 0 || operand >= len(ups) {
			return false, nil, vm.raise("invalid upvalue index %d", operand)
		}
		vm.push(ups[operand])
	case bytecode.OpSetFree:
		ups := vm.currentUpvalues()
		if operand < 0 || operand >= len(ups) {
			return false, nil, vm.raise("invalid upvalue index %d", operand)
		}
		ups[operand] = vm.top()

	case bytecode.OpAdd:
		b, a := vm.pop(), vm.pop()
		vm.push(addValues(a, b))
	case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpPow:
		b, a := vm.pop(), vm.pop()
		res, err := arith(op, a, b)
		if err != nil {
			return false, nil, vm.raise("%s", err.Error())
		}
		vm.push(res)
	case bytecode.OpNeg:
		a := vm.pop()
		switch n := a.(type) {
		case int64:
			vm.push(-n)
		case float64:
			vm.push(-n)
		default:
			return false, nil, vm.raise("cannot negate %s", value.TypeName(a))
		}
	case bytecode.OpAddInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		vm.push(a + b)
	case bytecode.OpSubInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		vm.push(a - b)
	case bytecode.OpMulInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		vm.push(a * b)
	case bytecode.OpDivInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		if b == 0 {
			return false, nil, vm.raise("division by zero")
		}
		vm.push(a / b)
	case bytecode.OpModInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		if b == 0 {
			return false, nil, vm.raise("modulo by zero")
		}
		vm.push(a % b)

	case bytecode.OpEq:
		b, a := vm.pop(), vm.pop()
		vm.push(value.Equal(a, b))
	case bytecode.OpNe:
		b, a := vm.pop(), vm.pop()
		vm.push(!value.Equal(a, b))
	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		b, a := vm.pop(), vm.pop()
		res, err := compare(op, a, b)
		if err != nil {
			return false, nil, vm.raise("%s", err.Error())
		}
		vm.push(res)
	case bytecode.OpEqInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		vm.push(a == b)
	case bytecode.OpNeInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		vm.push(a != b)
	case bytecode.OpLtInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		vm.push(a < b)
	case bytecode.OpLeInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		vm.push(a <= b)
	case bytecode.OpGtInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		vm.push(a > b)
	case bytecode.OpGeInt:
		b, a := vm.pop().(int64), vm.pop().(int64)
		vm.push(a >= b)
	case bytecode.OpNot:
		vm.push(!value.Truthy(vm.pop()))

	case bytecode.OpJump:
		vm.ip = operand
	case bytecode.OpJumpIfFalse:
		if !value.Truthy(vm.top()) {
			vm.ip = operand
		}
	case bytecode.OpJumpIfTrue:
		if value.Truthy(vm.top()) {
			vm.ip = operand
		}
	case bytecode.OpJumpIfFalsePop:
		if !value.Truthy(vm.pop()) {
			vm.ip = operand
		}
	case bytecode.OpJumpIfNull:
		if vm.top() == nil {
			vm.ip = operand
		}
	case bytecode.OpLoop:
		vm.ip = operand

	case bytecode.OpNewArray:
		elems := make([]interface{}, operand)
		for i := operand - 1; i >= 0; i-- {
			elems[i] = vm.pop()
		}
		vm.heap.Register(int64(operand) * 16)
		vm.push(&value.Array{Elements: elems})
	case bytecode.OpNewMap:
		m := &value.Map{}
		pairs := make([]value.MapEntry, operand)
		for i := operand - 1; i >= 0; i-- {
			v := vm.pop()
			k := vm.pop()
			pairs[i] = value.MapEntry{Key: k, Value: v}
		}
		m.Entries = pairs
		vm.heap.Register(int64(operand) * 32)
		vm.push(m)
	case bytecode.OpNewRange:
		end, start := vm.pop().(int64), vm.pop().(int64)
		vm.push(&value.Range{Start: start, End: end})
	case bytecode.OpNewRangeInclusive:
		end, start := vm.pop().(int64), vm.pop().(int64)
		vm.push(&value.Range{Start: start, End: end, Inclusive: true})
	case bytecode.OpGetIndex:
		idx, target := vm.pop(), vm.pop()
		v, err := getIndex(target, idx)
		if err != nil {
			return false, nil, vm.raise("%s", err.Error())
		}
		vm.push(v)
	case bytecode.OpSetIndex:
		v, idx, target := vm.pop(), vm.pop(), vm.pop()
		if err := setIndex(target, idx, v); err != nil {
			return false, nil, vm.raise("%s", err.Error())
		}
		vm.push(v)
	case bytecode.OpIterInit:
		it, ok := value.NewIterator(vm.pop())
		if !ok {
			return false, nil, vm.raise("value is not iterable")
		}
		vm.push(it)
	case bytecode.OpIterNext:
		it := vm.top().(*value.Iterator)
		next, v, hasNext := it.Next()
		vm.push(next)
		vm.push(v)
		vm.push(hasNext)

	case bytecode.OpNewStruct:
		typeIdx, fieldCount := bytecode.Unpack(operand)
		name := vm.chunk.Constants[typeIdx].(string)
		fields := make([]interface{}, fieldCount)
		for i := fieldCount - 1; i >= 0; i-- {
			fields[i] = vm.pop()
		}
		vm.heap.Register(int64(fieldCount)*16 + 32)
		vm.push(&value.StructValue{StructName: name, Fields: fields})
	case bytecode.OpNewClass:
		typeIdx, argc := bytecode.Unpack(operand)
		name := vm.chunk.Constants[typeIdx].(string)
		td, ok := vm.chunk.LookupType(name)
		if !ok {
			return false, nil, vm.raise("undefined class %q", name)
		}
		if td.IsAbstract {
			return false, nil, vm.raise("cannot instantiate abstract class %q", name)
		}
		args := make([]interface{}, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		inst := &value.Instance{ClassName: name, Fields: make([]interface{}, len(td.Fields))}
		vm.heap.Register(int64(len(td.Fields))*16 + 48)
		if init, ok := lookupMethod(vm.chunk, td, "init"); ok {
			if err := vm.invoke(init, inst, args); err != nil {
				return false, nil, err
			}
			vm.pop() // discard init's own return value (this)
		}
		vm.push(inst)

	case bytecode.OpGetField:
		name := vm.chunk.Constants[operand].(string)
		v, err := vm.getField(vm.pop(), name, false)
		if err != nil {
			return false, nil, err
		}
		vm.push(v)
	case bytecode.OpSafeGetField:
		name := vm.chunk.Constants[operand].(string)
		recv := vm.pop()
		if recv == nil {
			vm.push(nil)
			break
		}
		v, err := vm.getField(recv, name, false)
		if err != nil {
			return false, nil, err
		}
		vm.push(v)
	case bytecode.OpNonNullGetField:
		name := vm.chunk.Constants[operand].(string)
		recv := vm.pop()
		if recv == nil {
			return false, nil, vm.raise("non-null assertion failed: receiver is null")
		}
		v, err := vm.getField(recv, name, false)
		if err != nil {
			return false, nil, err
		}
		vm.push(v)
	case bytecode.OpSetField:
		name := vm.chunk.Constants[operand].(string)
		v, recv := vm.pop(), vm.pop()
		if err := vm.setField(recv, name, v); err != nil {
			return false, nil, err
		}
		vm.push(v)

	case bytecode.OpInvokeMethod, bytecode.OpSafeInvokeMethod, bytecode.OpNonNullInvokeMethod:
		nameIdx, argc := bytecode.Unpack(operand)
		name := vm.chunk.Constants[nameIdx].(string)
		args := make([]interface{}, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		recv := vm.pop()
		if recv == nil {
			switch op {
			case bytecode.OpSafeInvokeMethod:
				vm.push(nil)
				break
			case bytecode.OpNonNullInvokeMethod:
				return false, nil, vm.raise("non-null assertion failed: receiver is null")
			default:
				return false, nil, vm.raise("method %q called on null receiver", name)
			}
			break
		}
		if err := vm.dispatchMethod(recv, name, args, false); err != nil {
			return false, nil, err
		}
	case bytecode.OpInvokeSuper:
		nameIdx, argc := bytecode.Unpack(operand)
		name := vm.chunk.Constants[nameIdx].(string)
		args := make([]interface{}, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		recv := vm.pop()
		if err := vm.dispatchMethod(recv, name, args, true); err != nil {
			return false, nil, err
		}
	case bytecode.OpInvokeStatic:
		classIdx, methodIdx := bytecode.Unpack(operand)
		className := vm.chunk.Constants[classIdx].(string)
		methodName := vm.chunk.Constants[methodIdx].(string)
		td, ok := vm.chunk.LookupType(className)
		if !ok {
			return false, nil, vm.raise("undefined class %q", className)
		}
		fi, ok := td.StaticMethods.Get(methodName)
		if !ok {
			return false, nil, vm.raise("class %q has no static method %q", className, methodName)
		}
		argc := len(fi.ParamNames)
		args := make([]interface{}, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		if err := vm.invoke(fi, nil, args); err != nil {
			return false, nil, err
		}
	case bytecode.OpGetStatic:
		classIdx, fieldIdx := bytecode.Unpack(operand)
		className := vm.chunk.Constants[classIdx].(string)
		fieldName := vm.chunk.Constants[fieldIdx].(string)
		td, ok := vm.chunk.LookupType(className)
		if !ok {
			return false, nil, vm.raise("undefined class %q", className)
		}
		if td.StaticFields != nil {
			if idx, ok := td.StaticFields.Get(fieldName); ok {
				vm.push(vm.chunk.Constants[idx])
				break
			}
		}
		return false, nil, vm.raise("class %q has no static field %q", className, fieldName)

	case bytecode.OpCall:
		if err := vm.call(operand, false); err != nil {
			return false, nil, err
		}
	case bytecode.OpTailCall:
		if err := vm.call(operand, true); err != nil {
			return false, nil, err
		}
	case bytecode.OpReturn:
		retVal := vm.pop()
		if done, rv := vm.doReturn(retVal); done {
			return true, rv, nil
		}
	case bytecode.OpReturnLocal:
		retVal := vm.getLocal(operand)
		if done, rv := vm.doReturn(retVal); done {
			return true, rv, nil
		}
	case bytecode.OpReturnInt:
		retVal := int64(int8(operand))
		if done, rv := vm.doReturn(retVal); done {
			return true, rv, nil
		}

	case bytecode.OpSetupTry:
		vm.handlers = append(vm.handlers, handler{CatchIP: operand, StackDepth: len(vm.stack), FrameDepth: len(vm.frames)})
	case bytecode.OpThrow:
		ex := vm.pop()
		return false, nil, &thrownException{value: ex}

	case bytecode.OpGoSpawn:
		fn := vm.pop()
		args := make([]interface{}, operand)
		for i := operand - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		vm.spawn(fn, args)
		vm.push(nil)
	case bytecode.OpMakeChannel:
		capacity := vm.pop().(int64)
		if vm.channelFactory == nil {
			return false, nil, vm.raise("channel creation requires a scheduler-backed VM")
		}
		vm.push(vm.channelFactory(int(capacity)))

	case bytecode.OpMakeClosure:
		descIdx, freeCount := bytecode.Unpack(operand)
		fi := vm.chunk.Constants[descIdx].(*bytecode.FuncInfo)
		entry, _ := vm.chunk.Constants[fi.ConstIndex].(int)
		ups := make([]interface{}, freeCount)
		for i := freeCount - 1; i >= 0; i-- {
			ups[i] = vm.pop()
		}
		vm.push(&value.Closure{Fn: &value.Function{Name: fi.Name, Entry: entry, ParamNames: fi.ParamNames}, Upvalues: ups})

	case bytecode.OpPrint:
		fmt.Print(value.ToString(vm.pop()))
		vm.push(nil)
	case bytecode.OpPrintLn:
		fmt.Println(value.ToString(vm.pop()))
		vm.push(nil)
	case bytecode.OpToString:
		vm.push(value.ToString(vm.pop()))
	case bytecode.OpTypeOf:
		vm.push(value.TypeName(vm.pop()))
	case bytecode.OpTypeInfo:
		name := value.TypeName(vm.pop())
		vm.push(&value.TypeInfo{Name: name, Kind: kindOf(vm.chunk, name)})
	case bytecode.OpSizeOf:
		vm.push(sizeOf(vm.pop()))
	case bytecode.OpPanic:
		return false, nil, &thrownException{value: vm.pop()}
	case bytecode.OpTime:
		vm.push(nowUnix())
	case bytecode.OpCast:
		typeName := vm.chunk.Constants[operand].(string)
		v, err := castValue(vm.pop(), typeName)
		if err != nil {
			return false, nil, vm.raise("%s", err.Error())
		}
		vm.push(v)
	case bytecode.OpTypeCheck:
		typeName := vm.chunk.Constants[operand].(string)
		vm.push(vm.matchesType(vm.pop(), typeName))

	default:
		return false, nil, vm.raise("unimplemented opcode %s", op)
	}
	return false, nil, nil
}

// doReturn pops the current call frame, moving retVal down to the
// frame's base and truncating the stack, then restores the caller's ip.
// When no frame remains, the program itself is returning: Run should stop.
func (vm *VM) doReturn(retVal interface{}) (halt bool, result interface{}) {
	if len(vm.frames) == 0 {
		return true, retVal
	}
	f := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.stack = vm.stack[:f.Base]
	vm.push(retVal)
	vm.ip = f.ReturnIP
	return false, nil
}

// call implements Call/TailCall. operand is the argument count already
// sitting on top of the stack, with the callee (Function/Closure) above
// those arguments.
func (vm *VM) call(argc int, tail bool) error {
	callee := vm.pop()
	args := make([]interface{}, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}

	var entry int
	var upvalues []interface{}
	var name string
	switch fn := callee.(type) {
	case *value.Function:
		entry, name = fn.Entry, fn.Name
	case *value.Closure:
		entry, name, upvalues = fn.Fn.Entry, fn.Fn.Name, fn.Upvalues
	default:
		return vm.raise("value of type %s is not callable", value.TypeName(callee))
	}

	base := len(vm.stack)
	for _, a := range args {
		vm.push(a)
	}

	if tail && len(vm.frames) > 0 {
		cur := vm.frames[len(vm.frames)-1]
		// Move the new argument window down over the current frame's
		// locals, reusing the frame instead of growing the call stack —
		// this is the whole point of TailCall (spec.md §4.3).
		n := len(vm.stack) - base
		copy(vm.stack[cur.Base:], vm.stack[base:base+n])
		vm.stack = vm.stack[:cur.Base+n]
		vm.frames[len(vm.frames)-1].Upvalues = upvalues
		vm.ip = entry
		return nil
	}

	vm.frames = append(vm.frames, CallFrame{ReturnIP: vm.ip, Base: base, FuncName: name, Upvalues: upvalues})
	vm.ip = entry
	return nil
}

// invoke runs fi's body to completion as a nested call, used for
// init/static/super dispatch from inside opcode handling rather than from
// the Call opcode itself. this0 is pushed as slot 0 when fi is an
// instance method (this0 == nil for static methods).
func (vm *VM) invoke(fi bytecode.FuncInfo, this0 interface{}, args []interface{}) error {
	base := len(vm.stack)
	if this0 != nil || fi.IsMethod {
		vm.push(this0)
	}
	for _, a := range args {
		vm.push(a)
	}
	entry, ok := vm.chunk.Constants[fi.ConstIndex].(int)
	if !ok {
		return vm.raise("function %q has no compiled body", fi.Name)
	}
	savedFrames := len(vm.frames)
	vm.frames = append(vm.frames, CallFrame{ReturnIP: -1, Base: base, IsMethodCall: fi.IsMethod, FuncName: fi.Name})
	savedIP := vm.ip
	vm.ip = entry

	for len(vm.frames) > savedFrames {
		if vm.ip < 0 || vm.ip >= len(vm.chunk.Instructions) {
			break
		}
		in := vm.chunk.Instructions[vm.ip]
		halted, _, err := vm.step(in)
		if err != nil {
			if vm.unwindTo(err) {
				continue
			}
			return err
		}
		if halted {
			break
		}
	}
	vm.ip = savedIP
	return nil
}

// channel method calls (send/receive/close) have no compiled body — they
// dispatch straight to the Channel interface instead of through invoke(),
// since pkg/scheduler's implementation does its own blocking/handoff.
func (vm *VM) dispatchChannel(ch value.Channel, name string, args []interface{}) error {
	switch name {
	case "send":
		if len(args) != 1 {
			return vm.raise("Channel.send expects 1 argument, got %d", len(args))
		}
		if err := ch.Send(args[0]); err != nil {
			return &thrownException{value: err.Error()}
		}
		vm.push(nil)
		return nil
	case "receive":
		// Blocking receive returning the bare value, or Null once the
		// channel is closed and drained (spec.md §8 scenario 5).
		v, ok, err := ch.Receive()
		if err != nil {
			return &thrownException{value: err.Error()}
		}
		if !ok {
			vm.push(nil)
			return nil
		}
		vm.push(v)
		return nil
	case "receiveOk":
		// Comma-ok form for code that needs to distinguish a real zero
		// value from a closed-and-drained channel.
		v, ok, err := ch.Receive()
		if err != nil {
			return &thrownException{value: err.Error()}
		}
		vm.push(&value.Array{Elements: []interface{}{v, ok}})
		return nil
	case "close":
		if err := ch.Close(); err != nil {
			return &thrownException{value: err.Error()}
		}
		vm.push(nil)
		return nil
	default:
		return vm.raise("Channel has no method %q", name)
	}
}

func (vm *VM) dispatchMethod(recv interface{}, name string, args []interface{}, super bool) error {
	if ch, ok := recv.(value.Channel); ok {
		return vm.dispatchChannel(ch, name, args)
	}
	className, ok := instanceClassName(recv)
	if !ok {
		return vm.raise("method %q called on non-instance value of type %s", name, value.TypeName(recv))
	}
	td, ok := vm.chunk.LookupType(className)
	if !ok {
		return vm.raise("undefined class %q", className)
	}
	if super {
		if td.Parent == "" {
			return vm.raise("class %q has no superclass", className)
		}
		parent, ok := vm.chunk.LookupType(td.Parent)
		if !ok {
			return vm.raise("undefined parent class %q", td.Parent)
		}
		td = parent
	}
	fi, ok := lookupMethod(vm.chunk, td, name)
	if !ok {
		return vm.raise("%q has no method %q", className, name)
	}
	return vm.invoke(fi, recv, args)
}

// lookupMethod walks the parent chain, per spec.md §4.3.
func lookupMethod(chunk *bytecode.Chunk, td *bytecode.TypeDef, name string) (bytecode.FuncInfo, bool) {
	for td != nil {
		if fi, ok := td.Methods.Get(name); ok {
			return fi, true
		}
		if td.Parent == "" {
			return bytecode.FuncInfo{}, false
		}
		parent, ok := chunk.LookupType(td.Parent)
		if !ok {
			return bytecode.FuncInfo{}, false
		}
		td = parent
	}
	return bytecode.FuncInfo{}, false
}

func instanceClassName(v interface{}) (string, bool) {
	if inst, ok := v.(*value.Instance); ok {
		return inst.ClassName, true
	}
	return "", false
}

func (vm *VM) getField(recv interface{}, name string, super bool) (interface{}, error) {
	switch t := recv.(type) {
	case *value.Instance:
		td, ok := vm.chunk.LookupType(t.ClassName)
		if !ok {
			return nil, vm.raise("undefined class %q", t.ClassName)
		}
		for _, f := range td.Fields {
			if f.Name == name {
				return t.Fields[f.Index], nil
			}
		}
		return nil, vm.raise("%q has no field %q", t.ClassName, name)
	case *value.StructValue:
		td, ok := vm.chunk.LookupType(t.StructName)
		if ok {
			for _, f := range td.Fields {
				if f.Name == name {
					return t.Fields[f.Index], nil
				}
			}
		}
		return nil, vm.raise("%q has no field %q", t.StructName, name)
	default:
		return nil, vm.raise("cannot read field %q of %s", name, value.TypeName(recv))
	}
}

func (vm *VM) setField(recv interface{}, name string, v interface{}) error {
	switch t := recv.(type) {
	case *value.Instance:
		td, ok := vm.chunk.LookupType(t.ClassName)
		if !ok {
			return vm.raise("undefined class %q", t.ClassName)
		}
		for _, f := range td.Fields {
			if f.Name == name {
				t.Fields[f.Index] = v
				return nil
			}
		}
		return vm.raise("%q has no field %q", t.ClassName, name)
	case *value.StructValue:
		td, ok := vm.chunk.LookupType(t.StructName)
		if ok {
			for _, f := range td.Fields {
				if f.Name == name {
					t.Fields[f.Index] = v
					return nil
				}
			}
		}
		return vm.raise("%q has no field %q", t.StructName, name)
	default:
		return vm.raise("cannot set field %q of %s", name, value.TypeName(recv))
	}
}

// thrownException carries a user-level exception value through the
// standard error interface so vm.step can return it uniformly alongside
// built-in faults, and unwindTo can tell the two apart when no handler
// catches a built-in fault (those should still propagate as RuntimeError).
type thrownException struct{ value interface{} }

func (t *thrownException) Error() string { return value.ToString(t.value) }

// unwindTo pops handlers until one at or above its recorded depth can
// catch err, restoring the stack/frame depth and jumping to its catch_ip.
// It returns false when no handler remains, in which case Run reports err.
func (vm *VM) unwindTo(err error) bool {
	if len(vm.handlers) == 0 {
		return false
	}
	h := vm.handlers[len(vm.handlers)-1]
	vm.handlers = vm.handlers[:len(vm.handlers)-1]

	vm.frames = vm.frames[:h.FrameDepth]
	if h.StackDepth > len(vm.stack) {
		h.StackDepth = len(vm.stack)
	}
	vm.stack = vm.stack[:h.StackDepth]

	var exVal interface{}
	if te, ok := err.(*thrownException); ok {
		exVal = te.value
	} else {
		exVal = err.Error()
	}
	vm.push(exVal)
	vm.ip = h.CatchIP
	return true
}

// PrepareCall primes the VM to execute fn(args...) from a standing start,
// without running it: it pushes the call and leaves ip at fn's entry point.
// pkg/scheduler uses this once per goroutine, then drives execution
// forward in instruction-budget slices via Resume (spec.md §4.4's bounded
// instruction budget per scheduling turn).
func (vm *VM) PrepareCall(fn interface{}, args []interface{}) error {
	for _, a := range args {
		vm.push(a)
	}
	vm.push(fn)
	return vm.call(len(args), false)
}

// RunStatus reports why Resume returned control to its caller.
type RunStatus int

const (
	StatusCompleted RunStatus = iota
	StatusYielded
	StatusError
)

// Resume executes up to budget instructions starting from the VM's current
// ip, for the scheduler's bounded-instruction-budget goroutine turns
// (spec.md §4.4 step 2's worker loop and the default 10,000-instruction
// budget). It returns StatusYielded when the budget runs out mid-body so
// the scheduler can push this goroutine back onto a queue and move on,
// StatusCompleted when the primed call returns to an empty frame stack,
// and StatusError on an uncaught runtime fault.
func (vm *VM) Resume(budget int) (RunStatus, interface{}, error) {
	for i := 0; i < budget; i++ {
		if vm.ip < 0 || vm.ip >= len(vm.chunk.Instructions) {
			return StatusCompleted, nil, nil
		}
		in := vm.chunk.Instructions[vm.ip]
		vm.instrCount++
		halted, retVal, err := vm.step(in)
		if err != nil {
			if vm.unwindTo(err) {
				continue
			}
			return StatusError, nil, err
		}
		if halted {
			return StatusCompleted, retVal, nil
		}
		if len(vm.frames) == 0 {
			return StatusCompleted, nil, nil
		}
	}
	return StatusYielded, nil, nil
}

func (vm *VM) spawn(fn interface{}, args []interface{}) {
	if vm.spawner != nil {
		vm.spawner.Spawn(fn, args, vm.globals)
		return
	}
	// Non-concurrent mode: run inline on a nested VM sharing this chunk
	// and globals (spec.md §4.3's fallback).
	nested := New(vm.chunk)
	nested.globals = vm.globals
	if err := nested.PrepareCall(fn, args); err != nil {
		return
	}
	_, _ = nested.Run()
}
