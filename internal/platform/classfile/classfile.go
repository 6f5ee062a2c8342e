// Package classfile reads the parts of a JVM class file needed to decide
// whether a compiled class carries runnable test methods: its name and the
// runtime-visible annotations on each declared method.
package classfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrBadMagic is returned for input that is not a class file.
var ErrBadMagic = errors.New("classfile: bad magic number")

const magic = 0xCAFEBABE

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

const runtimeVisibleAnnotations = "RuntimeVisibleAnnotations"

// Method is a declared method and the descriptors of its runtime-visible annotations.
type Method struct {
	Name        string
	Descriptor  string
	Annotations []string
}

// HasAnnotation reports whether the method carries the annotation with the given descriptor.
func (m Method) HasAnnotation(descriptor string) bool {
	for _, a := range m.Annotations {
		if a == descriptor {
			return true
		}
	}
	return false
}

// Class is the decoded subset of a class file.
type Class struct {
	// Name is the binary name with dots, e.g. "com.example.CalculatorTest".
	Name    string
	Methods []Method
}

// MethodsAnnotatedWith returns the names of methods carrying the annotation.
func (c *Class) MethodsAnnotatedWith(descriptor string) []string {
	var names []string
	for _, m := range c.Methods {
		if m.HasAnnotation(descriptor) {
			names = append(names, m.Name)
		}
	}
	return names
}

// ReadFile parses the class file at path.
func ReadFile(path string) (*Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a class file image.
func Parse(data []byte) (*Class, error) {
	p := &parser{r: bytes.NewReader(data)}

	if p.u4() != magic {
		if p.err != nil {
			return nil, p.err
		}
		return nil, ErrBadMagic
	}
	p.skip(4) // minor, major

	p.readConstantPool()
	p.skip(2) // access flags
	thisClass := p.u2()
	p.skip(2) // super class
	p.skip(int64(p.u2()) * 2)

	// Fields share the member layout; their annotations are irrelevant.
	for n := p.u2(); n > 0 && p.err == nil; n-- {
		p.readMember()
	}

	var methods []Method
	for n := p.u2(); n > 0 && p.err == nil; n-- {
		methods = append(methods, p.readMember())
	}

	if p.err != nil {
		return nil, p.err
	}

	name, err := p.className(thisClass)
	if err != nil {
		return nil, err
	}

	return &Class{Name: strings.ReplaceAll(name, "/", "."), Methods: methods}, nil
}

type constant struct {
	tag  uint8
	utf8 string
	ref  uint16
}

type parser struct {
	r    *bytes.Reader
	pool []constant
	err  error
}

func (p *parser) fail(err error) {
	if p.err == nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		p.err = fmt.Errorf("classfile: %w", err)
	}
}

func (p *parser) read(n int) []byte {
	if p.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		p.fail(err)
		return nil
	}
	return buf
}

func (p *parser) u1() uint8 {
	b := p.read(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (p *parser) u2() uint16 {
	b := p.read(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (p *parser) u4() uint32 {
	b := p.read(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (p *parser) skip(n int64) {
	if p.err != nil || n == 0 {
		return
	}
	if int64(p.r.Len()) < n {
		p.fail(io.ErrUnexpectedEOF)
		return
	}
	_, _ = p.r.Seek(n, io.SeekCurrent)
}

func (p *parser) readConstantPool() {
	count := int(p.u2())
	p.pool = make([]constant, count)

	for i := 1; i < count && p.err == nil; i++ {
		tag := p.u1()
		c := constant{tag: tag}
		switch tag {
		case tagUtf8:
			// Modified UTF-8; identical to UTF-8 for the names this package compares.
			c.utf8 = string(p.read(int(p.u2())))
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			c.ref = p.u2()
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			p.skip(4)
		case tagMethodHandle:
			p.skip(3)
		case tagLong, tagDouble:
			p.skip(8)
			p.pool[i] = c
			i++ // eight-byte constants take two slots
			continue
		default:
			p.fail(fmt.Errorf("unknown constant pool tag %d at index %d", tag, i))
			return
		}
		p.pool[i] = c
	}
}

func (p *parser) utf8(index uint16) string {
	if p.err != nil {
		return ""
	}
	if int(index) >= len(p.pool) || p.pool[index].tag != tagUtf8 {
		p.fail(fmt.Errorf("constant %d is not a Utf8 entry", index))
		return ""
	}
	return p.pool[index].utf8
}

func (p *parser) className(index uint16) (string, error) {
	if int(index) >= len(p.pool) || p.pool[index].tag != tagClass {
		return "", fmt.Errorf("classfile: constant %d is not a Class entry", index)
	}
	name := p.utf8(p.pool[index].ref)
	return name, p.err
}

func (p *parser) readMember() Method {
	p.skip(2) // access flags
	m := Method{
		Name:       p.utf8(p.u2()),
		Descriptor: p.utf8(p.u2()),
	}

	for n := p.u2(); n > 0 && p.err == nil; n-- {
		name := p.utf8(p.u2())
		length := int64(p.u4())
		if name != runtimeVisibleAnnotations {
			p.skip(length)
			continue
		}
		m.Annotations = append(m.Annotations, p.readAnnotations()...)
	}
	return m
}

func (p *parser) readAnnotations() []string {
	var types []string
	for n := p.u2(); n > 0 && p.err == nil; n-- {
		types = append(types, p.readAnnotation())
	}
	return types
}

func (p *parser) readAnnotation() string {
	typ := p.utf8(p.u2())
	for n := p.u2(); n > 0 && p.err == nil; n-- {
		p.skip(2) // element name
		p.skipElementValue()
	}
	return typ
}

func (p *parser) skipElementValue() {
	switch tag := p.u1(); tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		p.skip(2)
	case 'e':
		p.skip(4)
	case '@':
		p.readAnnotation()
	case '[':
		for n := p.u2(); n > 0 && p.err == nil; n-- {
			p.skipElementValue()
		}
	default:
		if p.err == nil {
			p.fail(fmt.Errorf("unknown element value tag %q", tag))
		}
	}
}
