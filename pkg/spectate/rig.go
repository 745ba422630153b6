package spectate

import (
	"slices"
	"sync"

	"github.com/a-essam23/go-roomsync/pkg/message"
)

// MemoryRig is a Rig without a renderer. Headless clients move it directly.
type MemoryRig struct {
	mu          sync.Mutex
	camera      message.Pose
	controller1 *message.ControllerPose
	controller2 *message.ControllerPose
	control     bool
	spectating  bool
	projection  []float64
}

var _ Rig = (*MemoryRig)(nil)

func NewMemoryRig() *MemoryRig {
	return &MemoryRig{
		camera:  message.Pose{Quaternion: message.IdentityQuat},
		control: true,
	}
}

func (r *MemoryRig) CameraPose() message.Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.camera
}

func (r *MemoryRig) SetCameraPose(pose message.Pose) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.camera = pose
}

func (r *MemoryRig) ControllerPoses() (*message.ControllerPose, *message.ControllerPose) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyPose(r.controller1), copyPose(r.controller2)
}

// SetControllerPoses replaces both controller poses; nil means not connected.
func (r *MemoryRig) SetControllerPoses(controller1, controller2 *message.ControllerPose) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controller1 = copyPose(controller1)
	r.controller2 = copyPose(controller2)
}

func (r *MemoryRig) SetCameraControlEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.control = enabled
}

func (r *MemoryRig) CameraControlEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.control
}

func (r *MemoryRig) SetSpectatingAppearance(spectating bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spectating = spectating
}

func (r *MemoryRig) SetProjectionMatrix(matrix []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projection = slices.Clone(matrix)
}

func (r *MemoryRig) ProjectionMatrix() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.projection)
}

func copyPose(p *message.ControllerPose) *message.ControllerPose {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
