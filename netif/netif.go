// Package netif creates virtual network interfaces inside a child's network
// namespace, on the outer helper's behalf.
//
// Creation happens from the host network namespace with CAP_NET_ADMIN held
// only for the duration of the call. Veth and macvlan links are created in
// the host namespace and then moved into the child's netns by pid, so they
// exist briefly in the host namespace.
package netif

import (
	"github.com/vishvananda/netlink"

	"bst-go/bsterrors"
)

// Kind identifies the type of virtual interface to create.
type Kind string

const (
	// KindVeth is a veth pair; Peer names the host-side end.
	KindVeth Kind = "veth"
	// KindLoopback brings the existing "lo" interface up inside the
	// child's namespace; Name and Peer are ignored.
	KindLoopback Kind = "loopback"
	// KindMacvlan is a macvlan named Name, slaved to the host link Peer.
	KindMacvlan Kind = "macvlan"
)

// Option describes a single interface to create, mirroring the opaque
// nic_options descriptor from the spawn configuration.
type Option struct {
	Kind Kind
	// Name is the interface name inside the child's namespace.
	Name string
	// Peer is the host-side name for KindVeth, or the parent link for
	// KindMacvlan.
	Peer string
	// NetnsPID is the child's pid; set by the caller before Create.
	NetnsPID int
}

// Create instantiates opt inside the namespace of the process identified by
// opt.NetnsPID. The caller must hold CAP_NET_ADMIN.
func Create(opt Option) error {
	switch opt.Kind {
	case KindLoopback:
		return upLoopback(opt.NetnsPID)
	case KindVeth:
		return createVeth(opt)
	case KindMacvlan:
		return createMacvlan(opt)
	default:
		return bsterrors.New(bsterrors.ErrInvalidConfig, "netif create", "unknown nic kind: "+string(opt.Kind))
	}
}

func upLoopback(netnsPID int) error {
	ns, err := netlink.NewHandleAt(netnsPID)
	if err != nil {
		return wrapNetlinkErr(err, "open netns handle")
	}
	defer ns.Delete()

	lo, err := ns.LinkByName("lo")
	if err != nil {
		return wrapNetlinkErr(err, "lookup loopback")
	}
	if err := ns.LinkSetUp(lo); err != nil {
		return wrapNetlinkErr(err, "bring up loopback")
	}
	return nil
}

func createVeth(opt Option) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: opt.Peer},
		PeerName:  opt.Name,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return wrapNetlinkErr(err, "create veth pair")
	}

	peer, err := netlink.LinkByName(opt.Name)
	if err != nil {
		return wrapNetlinkErr(err, "lookup veth peer")
	}
	if err := netlink.LinkSetNsPid(peer, opt.NetnsPID); err != nil {
		return wrapNetlinkErr(err, "move veth peer into netns")
	}

	host, err := netlink.LinkByName(opt.Peer)
	if err != nil {
		return wrapNetlinkErr(err, "lookup veth host end")
	}
	if err := netlink.LinkSetUp(host); err != nil {
		return wrapNetlinkErr(err, "bring up veth host end")
	}
	return nil
}

func createMacvlan(opt Option) error {
	parent, err := netlink.LinkByName(opt.Peer)
	if err != nil {
		return wrapNetlinkErr(err, "lookup macvlan parent")
	}

	mv := &netlink.Macvlan{
		LinkAttrs: netlink.LinkAttrs{
			Name:        opt.Name,
			ParentIndex: parent.Attrs().Index,
		},
		Mode: netlink.MACVLAN_MODE_BRIDGE,
	}
	if err := netlink.LinkAdd(mv); err != nil {
		return wrapNetlinkErr(err, "create macvlan")
	}
	if err := netlink.LinkSetNsPid(mv, opt.NetnsPID); err != nil {
		return wrapNetlinkErr(err, "move macvlan into netns")
	}
	return nil
}

func wrapNetlinkErr(err error, op string) error {
	return bsterrors.Wrap(err, bsterrors.ErrNamespace, "netif: "+op)
}
