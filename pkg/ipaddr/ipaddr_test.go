// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ipaddr

import (
	"net"
	"testing"

	"github.com/pkg/errors"

	. "github.com/onsi/gomega"
)

func ipNet(network string) *net.IPNet {
	_, ipNet, err := net.ParseCIDR(network)
	Expect(err).To(BeNil())
	return ipNet
}

func TestIncrement(t *testing.T) {
	RegisterTestingT(t)

	next, err := Increment(net.ParseIP("10.0.0.5"))
	Expect(err).To(BeNil())
	Expect(next.String()).To(Equal("10.0.0.6"))
	Expect(next).To(HaveLen(net.IPv4len))

	// carry over octet boundary
	next, err = Increment(net.ParseIP("10.0.0.255"))
	Expect(err).To(BeNil())
	Expect(next.String()).To(Equal("10.0.1.0"))

	next, err = Increment(net.ParseIP("2001:db8::ffff"))
	Expect(err).To(BeNil())
	Expect(next.String()).To(Equal("2001:db8::1:0"))

	// input is left untouched
	ip := net.ParseIP("192.168.1.1").To4()
	_, err = Increment(ip)
	Expect(err).To(BeNil())
	Expect(ip.String()).To(Equal("192.168.1.1"))
}

func TestIncrementErrors(t *testing.T) {
	RegisterTestingT(t)

	_, err := Increment(nil)
	Expect(errors.Cause(err)).To(Equal(ErrInvalidAddress))

	_, err = Increment(net.IP{1, 2, 3})
	Expect(errors.Cause(err)).To(Equal(ErrInvalidAddress))

	_, err = Increment(net.ParseIP("255.255.255.255"))
	Expect(errors.Cause(err)).To(Equal(ErrAddressOverflow))

	_, err = Increment(net.ParseIP("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"))
	Expect(errors.Cause(err)).To(Equal(ErrAddressOverflow))
}

func TestIsUsable(t *testing.T) {
	RegisterTestingT(t)

	subnet := ipNet("10.0.0.0/24")
	Expect(IsUsable(net.ParseIP("10.0.0.0"), subnet)).To(BeFalse())
	Expect(IsUsable(net.ParseIP("10.0.0.255"), subnet)).To(BeFalse())
	Expect(IsUsable(net.ParseIP("10.0.1.0"), subnet)).To(BeFalse())
	Expect(IsUsable(net.ParseIP("9.255.255.255"), subnet)).To(BeFalse())
	for host := 1; host < 255; host++ {
		ip := net.IPv4(10, 0, 0, byte(host))
		Expect(IsUsable(ip, subnet)).To(BeTrue(), "host %v should be usable", ip)
	}

	Expect(IsUsable(nil, subnet)).To(BeFalse())
	Expect(IsUsable(net.ParseIP("10.0.0.1"), nil)).To(BeFalse())

	// point-to-point and host routes have no reserved addresses
	Expect(IsUsable(net.ParseIP("10.0.0.0"), ipNet("10.0.0.0/31"))).To(BeTrue())
	Expect(IsUsable(net.ParseIP("10.0.0.1"), ipNet("10.0.0.0/31"))).To(BeTrue())
	Expect(IsUsable(net.ParseIP("10.0.0.7"), ipNet("10.0.0.7/32"))).To(BeTrue())

	subnet6 := ipNet("2001:db8::/120")
	Expect(IsUsable(net.ParseIP("2001:db8::"), subnet6)).To(BeFalse())
	Expect(IsUsable(net.ParseIP("2001:db8::ff"), subnet6)).To(BeFalse())
	Expect(IsUsable(net.ParseIP("2001:db8::1"), subnet6)).To(BeTrue())
	Expect(IsUsable(net.ParseIP("2001:db8::fe"), subnet6)).To(BeTrue())
}

func TestParse(t *testing.T) {
	RegisterTestingT(t)

	ip, err := Parse("10.0.0.6")
	Expect(err).To(BeNil())
	Expect(ip).To(HaveLen(net.IPv4len))

	_, err = Parse("10.0.0")
	Expect(errors.Cause(err)).To(Equal(ErrInvalidAddress))

	subnet, err := ParseCIDR("10.0.0.0/24")
	Expect(err).To(BeNil())
	Expect(subnet.String()).To(Equal("10.0.0.0/24"))

	_, err = ParseCIDR("10.0.0.0/33")
	Expect(errors.Cause(err)).To(Equal(ErrInvalidAddress))
}
