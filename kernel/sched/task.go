package sched

import (
	"gophercore/kernel/gate"
	"gophercore/kernel/mm/vmm"
)

// TaskID is a handle to a task. The low 16 bits hold the index of the
// task slot and the upper bits hold the slot generation so that handles to
// reaped tasks are never confused with tasks that reuse their slot.
type TaskID uint32

// IdleTask is the ID of the idle task which adopts the boot context.
const IdleTask = TaskID(0)

func makeTaskID(slot int, generation uint16) TaskID {
	return TaskID(uint32(generation)<<16 | uint32(slot))
}

func (id TaskID) slot() int {
	return int(id & 0xffff)
}

func (id TaskID) generation() uint16 {
	return uint16(id >> 16)
}

// State describes the scheduling state of a task.
type State uint8

// The supported task states.
const (
	stateFree State = iota
	Ready
	Running
	Blocked
	Terminated
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	default:
		return "free"
	}
}

// Priority defines the scheduling priority of a task. Ready tasks with a
// higher priority always run before tasks with a lower priority.
type Priority uint8

// The supported priority levels.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh

	priorityLevels = 3
)

// WaitReason is an opaque value recorded when a task blocks.
type WaitReason uint32

// maxTasks is the number of task slots including the idle task.
const maxTasks = 64

type task struct {
	regs     gate.Registers
	space    vmm.AddressSpace
	state    State
	priority Priority
	reason   WaitReason

	// slice is the number of timer ticks left before the task is
	// preempted.
	slice uint32

	generation uint16

	// started is cleared for tasks that have never been scheduled.
	started bool
	user    bool

	// stackTop is the top of the kernel stack or 0 if the task runs on
	// the boot stack.
	stackTop uintptr

	// entry keeps the closure of kernel tasks reachable.
	entry func()
}

// taskRing is a fixed-capacity FIFO of task slot indices.
type taskRing struct {
	slots [maxTasks]uint8
	head  int
	count int
}

func (r *taskRing) push(slot int) {
	r.slots[(r.head+r.count)%maxTasks] = uint8(slot)
	r.count++
}

func (r *taskRing) pop() (int, bool) {
	if r.count == 0 {
		return 0, false
	}

	slot := int(r.slots[r.head])
	r.head = (r.head + 1) % maxTasks
	r.count--
	return slot, true
}

// remove deletes slot from the ring while preserving the order of the
// remaining entries. It returns false if slot was not found.
func (r *taskRing) remove(slot int) bool {
	for i := 0; i < r.count; i++ {
		if int(r.slots[(r.head+i)%maxTasks]) != slot {
			continue
		}

		for j := i; j < r.count-1; j++ {
			r.slots[(r.head+j)%maxTasks] = r.slots[(r.head+j+1)%maxTasks]
		}
		r.count--
		return true
	}

	return false
}
