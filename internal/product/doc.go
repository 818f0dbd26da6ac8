// Package product parses the vendor's product and component definition
// documents out of the platform archives.
//
// Each installable product (MATLAB, Simulink, or a toolbox) is described by a
// productdata_<Name><rev>_<platform>.xml document listing required products
// and the components whose payload files make up the install. Toolboxes name
// a controlling product among their requirements; controlling products do
// not.
package product
