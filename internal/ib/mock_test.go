package ib

// Hand-written driver and management mocks shared by the package tests.
// The mock backend records every call so tests can assert on what the
// core handed down, and can be primed to fail any single entry point.

type mockOps struct {
	nextCQN uint32
	nextQPN uint32

	createCQErr error
	createQPErr error
	modifyErr   error
	postSendErr error
	postRecvErr error
	attachErr   error
	openErr     error

	opens     int
	closes    int
	eqPolls   int
	cqPolls   int
	cqDestroy int
	qpDestroy int

	sentAVs  []AddressVector
	attached []GID
	detached []GID
}

func (m *mockOps) CreateCQ(dev *Device, cq *CompletionQueue) error {
	if m.createCQErr != nil {
		return m.createCQErr
	}
	m.nextCQN++
	cq.CQN = m.nextCQN
	return nil
}

func (m *mockOps) DestroyCQ(dev *Device, cq *CompletionQueue) {
	m.cqDestroy++
}

func (m *mockOps) PollCQ(dev *Device, cq *CompletionQueue) {
	m.cqPolls++
}

func (m *mockOps) CreateQP(dev *Device, qp *QueuePair) error {
	if m.createQPErr != nil {
		return m.createQPErr
	}
	m.nextQPN++
	qp.QPN = 0x100 + m.nextQPN
	return nil
}

func (m *mockOps) ModifyQP(dev *Device, qp *QueuePair) error {
	return m.modifyErr
}

func (m *mockOps) DestroyQP(dev *Device, qp *QueuePair) {
	m.qpDestroy++
}

func (m *mockOps) PostSend(dev *Device, qp *QueuePair, av *AddressVector, buf *Buffer) error {
	if m.postSendErr != nil {
		return m.postSendErr
	}
	m.sentAVs = append(m.sentAVs, *av)
	qp.Send.SetSlot(mockFreeSlot(&qp.Send), buf)
	return nil
}

func (m *mockOps) PostRecv(dev *Device, qp *QueuePair, buf *Buffer) error {
	if m.postRecvErr != nil {
		return m.postRecvErr
	}
	qp.Recv.SetSlot(mockFreeSlot(&qp.Recv), buf)
	return nil
}

func (m *mockOps) McastAttach(dev *Device, qp *QueuePair, gid GID) error {
	if m.attachErr != nil {
		return m.attachErr
	}
	m.attached = append(m.attached, gid)
	return nil
}

func (m *mockOps) McastDetach(dev *Device, qp *QueuePair, gid GID) {
	m.detached = append(m.detached, gid)
}

func (m *mockOps) Open(dev *Device) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.opens++
	return nil
}

func (m *mockOps) Close(dev *Device) {
	m.closes++
}

func (m *mockOps) PollEventQueue(dev *Device) {
	m.eqPolls++
}

func mockFreeSlot(wq *WorkQueue) int {
	for i := 0; i < wq.Capacity(); i++ {
		if wq.Slot(i) == nil {
			return i
		}
	}
	return -1
}

// mockSetterOps adds the optional port configuration operations on top
// of the plain mock.
type mockSetterOps struct {
	mockOps
	portInfo MAD
	pkeys    MAD
}

func (m *mockSetterOps) SetPortInfo(dev *Device, mad MAD) error {
	m.portInfo = mad
	return nil
}

func (m *mockSetterOps) SetPKeyTable(dev *Device, mad MAD) error {
	m.pkeys = mad
	return nil
}

// mockMgmt hands out interfaces that track teardown order.
type mockMgmt struct {
	smiErr   error
	gsiErr   error
	agentErr error

	created []string
	closed  *[]string
}

func newMockMgmt() *mockMgmt {
	return &mockMgmt{closed: &[]string{}}
}

func (m *mockMgmt) CreateInterface(dev *Device, t QPType) (ManagementInterface, error) {
	if t == QPTypeSMI && m.smiErr != nil {
		return nil, m.smiErr
	}
	if t == QPTypeGSI && m.gsiErr != nil {
		return nil, m.gsiErr
	}
	m.created = append(m.created, t.String())
	return &mockMI{name: t.String(), closed: m.closed}, nil
}

func (m *mockMgmt) CreateAgent(dev *Device, mi ManagementInterface) (ManagementAgent, error) {
	if m.agentErr != nil {
		return nil, m.agentErr
	}
	m.created = append(m.created, "SMA")
	return &mockMA{closed: m.closed}, nil
}

type mockMI struct {
	name   string
	closed *[]string
}

func (mi *mockMI) QueuePair() *QueuePair { return nil }

func (mi *mockMI) Close() {
	*mi.closed = append(*mi.closed, mi.name)
}

type mockMA struct {
	closed *[]string
}

func (ma *mockMA) Close() {
	*ma.closed = append(*ma.closed, "SMA")
}

// mockNetDriver records lifecycle and link notifications.
type mockNetDriver struct {
	probeErr error

	probed  []string
	removed []string
	links   []string
}

func (n *mockNetDriver) Probe(dev *Device) error {
	if n.probeErr != nil {
		return n.probeErr
	}
	n.probed = append(n.probed, dev.Name)
	return nil
}

func (n *mockNetDriver) Remove(dev *Device) {
	n.removed = append(n.removed, dev.Name)
}

func (n *mockNetDriver) LinkStateChanged(dev *Device) {
	n.links = append(n.links, dev.Name)
}

// mockMetrics counts hook invocations.
type mockMetrics struct {
	eqPolls       int
	sends         int
	sendsCanceled int
	recvs         int
	recvsCanceled int
	refilled      int
}

func (m *mockMetrics) EventQueuePolled(dev string) {
	m.eqPolls++
}

func (m *mockMetrics) SendCompleted(dev string, canceled bool) {
	m.sends++
	if canceled {
		m.sendsCanceled++
	}
}

func (m *mockMetrics) RecvCompleted(dev string, canceled bool) {
	m.recvs++
	if canceled {
		m.recvsCanceled++
	}
}

func (m *mockMetrics) RecvRefilled(dev string, posted int) {
	m.refilled += posted
}
